package filesystem

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocifs/ocifs-go/internal/fserrors"
)

func TestMkdir(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.fs.Ls(ctx, "@ns", false)
	require.NoError(t, err)

	require.NoError(t, env.fs.Mkdir(ctx, "fresh@ns", false))
	names, err := env.fs.Ls(ctx, "@ns", false)
	require.NoError(t, err)
	assert.Contains(t, names, "fresh@ns")

	info, err := env.fs.Info(ctx, "fresh@ns")
	require.NoError(t, err)
	assert.Equal(t, testCompartment, info.CompartmentID)

	// an existing bucket is not an error
	require.NoError(t, env.fs.Mkdir(ctx, "fresh@ns", false))

	// keys need no directory objects, only their bucket
	require.NoError(t, env.fs.Mkdir(ctx, "b@ns/some/dir", false))
	err = env.fs.Mkdir(ctx, "absent@ns/x", false)
	assert.True(t, fserrors.Is(err, fserrors.NotFound))
	require.NoError(t, env.fs.Mkdir(ctx, "absent@ns/x", true))
	ok, err := env.fs.Exists(ctx, "absent@ns")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, fserrors.Is(env.fs.Mkdir(ctx, "@ns", false), fserrors.InvalidArgument))
}

func TestRmdir(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.put(t, "a", []byte("a"))

	err := env.fs.Rmdir(ctx, "b@ns")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fserrors.ErrNotEmpty))
	assert.Equal(t, syscall.ENOTEMPTY, fserrors.Errno(err))

	require.NoError(t, env.fs.Mkdir(ctx, "empty@ns", false))
	require.NoError(t, env.fs.Rmdir(ctx, "empty@ns"))
	ok, err := env.fs.Exists(ctx, "empty@ns")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedTree(t, env)

	_, err := env.fs.Ls(ctx, "b@ns/dir", false)
	require.NoError(t, err)
	require.NoError(t, env.fs.Rm(ctx, "b@ns/dir/a", false))
	names, err := env.fs.Ls(ctx, "b@ns/dir", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@ns/dir/b", "b@ns/dir/sub"}, names)

	err = env.fs.Rm(ctx, "b@ns/dir", false)
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
	err = env.fs.Rm(ctx, "b@ns/dir/zzz", false)
	assert.True(t, fserrors.Is(err, fserrors.NotFound))
	err = env.fs.Rm(ctx, "b@ns/zzz", true)
	assert.True(t, fserrors.Is(err, fserrors.NotFound))

	require.NoError(t, env.fs.Rm(ctx, "b@ns/dir", true))
	ok, err := env.fs.Exists(ctx, "b@ns/dir")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, env.rec.count("DeleteObject"))

	require.NoError(t, env.fs.Rm(ctx, "b@ns", true))
	ok, err = env.fs.Exists(ctx, "b@ns")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, fserrors.Is(env.fs.Rm(ctx, "gone@ns", false), fserrors.NotFound))
	assert.True(t, fserrors.Is(env.fs.Rm(ctx, "@ns", true), fserrors.InvalidArgument))
}

func TestRecursiveRmForgetsDeepListings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.put(t, "x/y/z/f", []byte("f"))
	env.put(t, "keep", []byte("k"))

	names, err := env.fs.Ls(ctx, "b@ns", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@ns/keep", "b@ns/x"}, names)
	names, err = env.fs.Ls(ctx, "b@ns/x", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@ns/x/y"}, names)

	require.NoError(t, env.fs.Rm(ctx, "b@ns/x", true))

	ok, err := env.fs.Exists(ctx, "b@ns/x")
	require.NoError(t, err)
	assert.False(t, ok)
	names, err = env.fs.Ls(ctx, "b@ns", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@ns/keep"}, names)
	for _, dir := range []string{"b@ns/x", "b@ns/x/y", "b@ns/x/y/z"} {
		names, err = env.fs.Ls(ctx, dir, false)
		require.NoError(t, err)
		assert.Empty(t, names, dir)
	}
}

func TestBulkDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedTree(t, env)

	require.NoError(t, env.fs.BulkDelete(ctx, []string{"b@ns/top", "b@ns/dir/a", "b@ns/dir/b"}))
	files, err := env.fs.Find(ctx, "b@ns", FindOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b@ns/dir/sub/c", files[0].Name)

	err = env.fs.BulkDelete(ctx, []string{"b@ns/dir/sub/c", "other@ns/x"})
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
	assert.NoError(t, env.fs.BulkDelete(ctx, nil))
}

func TestTouch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.fs.Touch(ctx, "b@ns/t", true, nil))
	info, err := env.fs.Info(ctx, "b@ns/t")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size)

	err = env.fs.Touch(ctx, "b@ns/t", false, nil)
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))

	require.NoError(t, env.fs.Touch(ctx, "b@ns/u", false, []byte("data")))
	assert.Equal(t, []byte("data"), env.content(t, "u"))
	require.NoError(t, env.fs.Touch(ctx, "b@ns/u", true, nil))
	assert.Empty(t, env.content(t, "u"))

	assert.True(t, fserrors.Is(env.fs.Touch(ctx, "b@ns", true, nil), fserrors.InvalidArgument))
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedTree(t, env)
	require.NoError(t, env.fs.Mkdir(ctx, "c@ns", false))

	require.NoError(t, env.fs.Copy(ctx, "b@ns/top", "b@ns/top-copy"))
	assert.Equal(t, []byte("top"), env.content(t, "top-copy"))

	require.NoError(t, env.fs.Copy(ctx, "b@ns/dir/a", "c@ns"))
	data, err := env.fs.Cat(ctx, "c@ns/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("aa"), data)

	require.NoError(t, env.fs.Copy(ctx, "b@ns/dir", "c@ns/backup"))
	files, err := env.fs.Find(ctx, "c@ns/backup", FindOptions{})
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"c@ns/backup/a", "c@ns/backup/b", "c@ns/backup/sub/c"}, names)

	err = env.fs.Copy(ctx, "b@ns/missing", "c@ns/x")
	assert.True(t, fserrors.Is(err, fserrors.NotFound))
	err = env.fs.Copy(ctx, "@ns", "c@ns")
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedTree(t, env)

	_, err := env.fs.Ls(ctx, "b@ns", false)
	require.NoError(t, err)
	require.NoError(t, env.fs.Rename(ctx, "b@ns/top", "b@ns/moved"))
	names, err := env.fs.Ls(ctx, "b@ns", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@ns/dir", "b@ns/moved"}, names)
	assert.Equal(t, []byte("top"), env.content(t, "moved"))

	require.NoError(t, env.fs.Mkdir(ctx, "c@ns", false))
	err = env.fs.Rename(ctx, "b@ns/moved", "c@ns/moved")
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
	err = env.fs.Rename(ctx, "b@ns/moved", "b@ns")
	assert.True(t, fserrors.Is(err, fserrors.InvalidArgument))
	err = env.fs.Rename(ctx, "b@ns/nothing", "b@ns/else")
	assert.True(t, fserrors.Is(err, fserrors.NotFound))
}
