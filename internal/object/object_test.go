package object

import (
	"testing"

	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRootRegistry() (*Registry, *Object) {
	r := NewRegistry(0, tnode.DefaultConfig())
	root := NewObject(IDRoot, tags.ObjTypeDirectory, 0, "")
	r.Insert(root)
	return r, root
}

func TestCreateLinksUnderParent(t *testing.T) {
	r, root := newRootRegistry()
	f, err := r.Create(root, "hello.txt", tags.ObjTypeFile)
	require.NoError(t, err)
	assert.Equal(t, root.ObjID, f.ParentID)

	found, ok := r.FindByName(root, "hello.txt")
	assert.True(t, ok)
	assert.Equal(t, f.ObjID, found.ObjID)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	r, root := newRootRegistry()
	_, err := r.Create(root, "dup", tags.ObjTypeFile)
	require.NoError(t, err)
	_, err = r.Create(root, "dup", tags.ObjTypeFile)
	assert.Error(t, err)
}

func TestCreateRejectsNonDirParent(t *testing.T) {
	r, root := newRootRegistry()
	f, err := r.Create(root, "afile", tags.ObjTypeFile)
	require.NoError(t, err)
	_, err = r.Create(f, "child", tags.ObjTypeFile)
	assert.Error(t, err)
}

func TestRenameMovesBetweenDirectories(t *testing.T) {
	r, root := newRootRegistry()
	dirA, err := r.Create(root, "a", tags.ObjTypeDirectory)
	require.NoError(t, err)
	dirB, err := r.Create(root, "b", tags.ObjTypeDirectory)
	require.NoError(t, err)
	f, err := r.Create(dirA, "file.txt", tags.ObjTypeFile)
	require.NoError(t, err)

	shadowed, err := r.Rename(f, dirA, dirB, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), shadowed)

	_, ok := r.FindByName(dirA, "file.txt")
	assert.False(t, ok)
	found, ok := r.FindByName(dirB, "file.txt")
	assert.True(t, ok)
	assert.Equal(t, f.ObjID, found.ObjID)
}

func TestRenameOverExistingShadowsDisplacedObject(t *testing.T) {
	r, root := newRootRegistry()
	old, err := r.Create(root, "target", tags.ObjTypeFile)
	require.NoError(t, err)
	mover, err := r.Create(root, "mover", tags.ObjTypeFile)
	require.NoError(t, err)

	shadowed, err := r.Rename(mover, root, root, "target")
	require.NoError(t, err)
	assert.Equal(t, old.ObjID, shadowed)
	assert.True(t, old.IsShadowed)

	found, ok := r.FindByName(root, "target")
	assert.True(t, ok)
	assert.Equal(t, mover.ObjID, found.ObjID)
}

func TestRenameOverNonEmptyDirFails(t *testing.T) {
	r, root := newRootRegistry()
	victim, err := r.Create(root, "victim", tags.ObjTypeDirectory)
	require.NoError(t, err)
	_, err = r.Create(victim, "inner", tags.ObjTypeFile)
	require.NoError(t, err)
	mover, err := r.Create(root, "mover", tags.ObjTypeDirectory)
	require.NoError(t, err)

	_, err = r.Rename(mover, root, root, "victim")
	assert.Error(t, err)
}

func TestLinkCreatesHardlinkResolvingToEquiv(t *testing.T) {
	r, root := newRootRegistry()
	target, err := r.Create(root, "target.txt", tags.ObjTypeFile)
	require.NoError(t, err)
	link, err := r.Link(root, "alias.txt", target)
	require.NoError(t, err)

	resolved, ok := r.ResolveEquivID(link)
	assert.True(t, ok)
	assert.Equal(t, target.ObjID, resolved.ObjID)
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	r, root := newRootRegistry()
	f, err := r.Create(root, "bye.txt", tags.ObjTypeFile)
	require.NoError(t, err)
	r.Unlink(f, root)

	_, ok := r.FindByName(root, "bye.txt")
	assert.False(t, ok)
	assert.True(t, f.Unlinked)
}

func TestRetypeSwapsVariant(t *testing.T) {
	r, root := newRootRegistry()
	f, err := r.Create(root, "thing", tags.ObjTypeFile)
	require.NoError(t, err)
	r.Retype(f, tags.ObjTypeSymlink)
	assert.Nil(t, f.File)
	assert.NotNil(t, f.Symlink)
	assert.Equal(t, tags.ObjTypeSymlink, f.Type)
}

func TestHeaderFileSizeRoundTrip(t *testing.T) {
	var h Header
	h.SetFileSize(0x1_0000_0002)
	assert.Equal(t, uint64(0x1_0000_0002), h.FileSize())
}

func TestMakeRdevDecodeRdevRoundTrip(t *testing.T) {
	rdev := MakeRdev(8, 1)
	major, minor := DecodeRdev(rdev)
	assert.Equal(t, uint32(8), major)
	assert.Equal(t, uint32(1), minor)
}

func TestToHeaderCapturesFileVariant(t *testing.T) {
	r, root := newRootRegistry()
	f, err := r.Create(root, "sized.bin", tags.ObjTypeFile)
	require.NoError(t, err)
	f.File.FileSize = 4096

	h := f.ToHeader()
	assert.Equal(t, uint64(4096), h.FileSize())
	assert.Equal(t, "sized.bin", h.Name)
}
