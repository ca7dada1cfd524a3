package ocipath

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

type countingSource struct {
	ns    string
	calls int
	err   error
}

func (s *countingSource) GetNamespace(ctx context.Context) (string, error) {
	s.calls++
	return s.ns, s.err
}

type fakeMounts struct {
	seen []*MountRef
}

func (f *fakeMounts) ResolveMount(ctx context.Context, m *MountRef) (string, string, error) {
	f.seen = append(f.seen, m)
	return "lakebucket", "lakens", nil
}

func TestSplit(t *testing.T) {
	src := &countingSource{ns: "defaultns"}
	r := NewResolver(src, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		in   string
		want LogicalPath
	}{
		{"oci://bucket@ns/path/to/file", LogicalPath{Container: "bucket", Namespace: "ns", Key: "path/to/file"}},
		{"bucket@ns/dir/", LogicalPath{Container: "bucket", Namespace: "ns", Key: "dir"}},
		{"bucket@ns", LogicalPath{Container: "bucket", Namespace: "ns"}},
		{"bucket/key", LogicalPath{Container: "bucket", Namespace: "defaultns", Key: "key"}},
		{"@ns", LogicalPath{Namespace: "ns"}},
	} {
		got, err := r.Split(ctx, tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, 1, src.calls, "default namespace should be fetched once")
}

func TestSplitDefaultNamespaceFailure(t *testing.T) {
	r := NewResolver(&countingSource{err: errors.New("boom")}, nil)
	_, err := r.Split(context.Background(), "bucket/key")
	require.Error(t, err)
	assert.True(t, fserrors.Is(err, fserrors.RemoteIO))
}

func TestSplitLakePath(t *testing.T) {
	mounts := &fakeMounts{}
	r := NewResolver(&countingSource{ns: "defaultns"}, mounts)

	p, err := r.Split(context.Background(), "ocilake://m:table:db1:tbl1@ocid1.lake.oc1.iad.abc/a/b")
	require.NoError(t, err)
	assert.Equal(t, "lakebucket", p.Container)
	assert.Equal(t, "lakens", p.Namespace)
	assert.Equal(t, "a/b", p.Key)
	require.Len(t, mounts.seen, 1)
	assert.Equal(t, ScopeTable, mounts.seen[0].Scope)
	assert.Equal(t, "tbl1", mounts.seen[0].TableKey)
}

func TestSplitLakePathWithoutResolver(t *testing.T) {
	r := NewResolver(&countingSource{ns: "ns"}, nil)
	_, err := r.Split(context.Background(), "m@ocid1.lake.oc1.iad.abc/k")
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
}

func TestParent(t *testing.T) {
	assert.Equal(t, "b@ns/a", Parent("b@ns/a/b"))
	assert.Equal(t, "b@ns", Parent("b@ns/a"))
	assert.Equal(t, "@ns", Parent("b@ns"))
	assert.Equal(t, "b@ns", Parent("oci://b@ns/a/"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "b@ns/k", Join("b", "ns", "k"))
	assert.Equal(t, "b@ns", Join("b", "ns", ""))
	assert.Equal(t, "@ns", Join("", "ns", ""))
}

func TestIsLakePath(t *testing.T) {
	assert.True(t, IsLakePath("ocilake://m@ocid1.lake.oc1.iad.x/k"))
	assert.False(t, IsLakePath("oci://b@ns/ocid1.lake"))
}
