package ocipath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

const testLake = "ocid1.lake.oc1.iad.aaaa"

func TestParseMountSpecifierValid(t *testing.T) {
	m, err := ParseMountSpecifier("m", testLake)
	require.NoError(t, err)
	assert.Equal(t, MountExternal, m.Type)
	assert.Equal(t, ScopeType(""), m.Scope)

	m, err = ParseMountSpecifier("m:database:d1", testLake)
	require.NoError(t, err)
	assert.Equal(t, MountManaged, m.Type)
	assert.Equal(t, ScopeDatabase, m.Scope)
	assert.Equal(t, "d1", m.SchemaKey)

	m, err = ParseMountSpecifier("m:TABLE:d1:t1", testLake)
	require.NoError(t, err)
	assert.Equal(t, ScopeTable, m.Scope)
	assert.Equal(t, "d1", m.SchemaKey)
	assert.Equal(t, "t1", m.TableKey)

	m, err = ParseMountSpecifier("m:user:ocid1.user.x", testLake)
	require.NoError(t, err)
	assert.Equal(t, ScopeUser, m.Scope)
	assert.Equal(t, "ocid1.user.x", m.UserID)
	assert.Equal(t, "m:user:ocid1.user.x@"+testLake, m.String())
}

func TestParseMountSpecifierRejects(t *testing.T) {
	for _, spec := range []string{
		"m:table:d1",        // TABLE needs 4 segments
		"m:database:d1:x",   // DATABASE needs 3
		"m:user:u:x",        // USER needs 3
		"m:weird:x",         // unknown scope
		"m:database",        // 2 segments
		"m:a:b:c:d",         // too many
		":database:d1",      // empty name
		"m:database:",       // empty key
	} {
		_, err := ParseMountSpecifier(spec, testLake)
		require.Error(t, err, spec)
		assert.True(t, fserrors.Is(err, fserrors.InvalidArgument), spec)
	}
}
