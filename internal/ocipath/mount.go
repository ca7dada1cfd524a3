package ocipath

import (
	"strings"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

// MountType distinguishes a plain external mount from a managed one scoped
// to a catalog entity.
type MountType string

const (
	MountExternal MountType = "EXTERNAL"
	MountManaged  MountType = "MANAGED"
)

// ScopeType is the catalog entity a managed mount is scoped to.
type ScopeType string

const (
	ScopeDatabase ScopeType = "DATABASE"
	ScopeTable    ScopeType = "TABLE"
	ScopeUser     ScopeType = "USER"
)

var scopeSegments = map[ScopeType]int{
	ScopeDatabase: 3,
	ScopeTable:    4,
	ScopeUser:     3,
}

// MountRef is a parsed mount specifier:
//
//	name[:scope:key[:subkey]]@lakeID
type MountRef struct {
	Name      string
	LakeID    string
	Type      MountType
	Scope     ScopeType
	SchemaKey string
	TableKey  string
	UserID    string
}

// String renders the mount back into specifier form.
func (m *MountRef) String() string {
	segs := []string{m.Name}
	switch m.Scope {
	case ScopeDatabase:
		segs = append(segs, "database", m.SchemaKey)
	case ScopeTable:
		segs = append(segs, "table", m.SchemaKey, m.TableKey)
	case ScopeUser:
		segs = append(segs, "user", m.UserID)
	}
	return strings.Join(segs, ":") + "@" + m.LakeID
}

// ParseMountSpecifier parses the part of a lake path before the '@'.
func ParseMountSpecifier(spec, lakeID string) (*MountRef, error) {
	segs := strings.Split(spec, ":")
	mountType, ok := mountTypeOf(segs)
	if !ok {
		return nil, fserrors.Invalid("parse mount", spec+"@"+lakeID,
			"the path looks like a lake mount, but the mount type cannot be determined")
	}
	if segs[0] == "" {
		return nil, fserrors.Invalid("parse mount", spec+"@"+lakeID, "mount name is empty")
	}
	if lakeID == "" {
		return nil, fserrors.Invalid("parse mount", spec, "lake id is empty")
	}

	m := &MountRef{Name: segs[0], LakeID: lakeID, Type: mountType}
	if mountType == MountExternal {
		return m, nil
	}

	m.Scope = ScopeType(strings.ToUpper(segs[1]))
	if want := scopeSegments[m.Scope]; len(segs) != want {
		return nil, fserrors.Invalid("parse mount", spec+"@"+lakeID,
			"%s mount scope requires %d segments, got %d", m.Scope, want, len(segs))
	}
	for _, s := range segs[2:] {
		if s == "" {
			return nil, fserrors.Invalid("parse mount", spec+"@"+lakeID, "empty scope key")
		}
	}
	switch m.Scope {
	case ScopeDatabase:
		m.SchemaKey = segs[2]
	case ScopeTable:
		m.SchemaKey = segs[2]
		m.TableKey = segs[3]
	case ScopeUser:
		m.UserID = segs[2]
	}
	return m, nil
}

func mountTypeOf(segs []string) (MountType, bool) {
	switch {
	case len(segs) == 1:
		return MountExternal, true
	case len(segs) == 3 || len(segs) == 4:
		if _, ok := scopeSegments[ScopeType(strings.ToUpper(segs[1]))]; ok {
			return MountManaged, true
		}
	}
	return "", false
}
