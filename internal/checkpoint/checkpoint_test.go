package checkpoint

import (
	"bytes"
	"testing"

	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleState(t *testing.T) (*object.Registry, *block.Table) {
	t.Helper()
	reg := object.NewRegistry(0, tnode.DefaultConfig())
	root := object.NewObject(object.IDRoot, tags.ObjTypeDirectory, 0, "")
	reg.Insert(root)
	f, _ := reg.Create(root, "file.txt", tags.ObjTypeFile)
	f.File.FileSize = 4096
	f.File.NDataChunks = 2
	require.NoError(t, f.File.Tnodes.AddFind(0, 1))
	require.NoError(t, f.File.Tnodes.AddFind(1, 2))

	tbl := block.NewTable(4, 8)
	tbl.Info(0).State = block.StateFull
	tbl.Info(0).SeqNumber = 4096
	tbl.MarkLive(0)
	tbl.MarkLive(1)
	return reg, tbl
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	reg, tbl := buildSampleState(t)

	var buf bytes.Buffer
	w := NewWriter(false, nil)
	require.NoError(t, w.Save(&buf, reg, tbl, Summary{SeqNumber: 4096, FreeChunks: 10}))

	r := NewReader(false, nil)
	gotReg, gotTbl, summary, err := r.Restore(&buf, 0, 8, tnode.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, uint32(4096), summary.SeqNumber)
	assert.Equal(t, reg.Count(), gotReg.Count())

	gotFile, ok := gotReg.FindByName(mustRoot(t, gotReg), "file.txt")
	require.True(t, ok)
	assert.Equal(t, uint64(4096), gotFile.File.FileSize)
	assert.Equal(t, 2, gotFile.File.NDataChunks)
	phys, ok := gotFile.File.Tnodes.Find(0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), phys)
	phys, ok = gotFile.File.Tnodes.Find(1)
	require.True(t, ok)
	assert.Equal(t, uint32(2), phys)

	assert.Equal(t, tbl.NumBlocks(), gotTbl.NumBlocks())
	assert.True(t, gotTbl.IsLive(0))
	assert.True(t, gotTbl.IsLive(1))
	assert.False(t, gotTbl.IsLive(2))
}

func TestSaveRestoreWithCompressionRoundTrip(t *testing.T) {
	reg, tbl := buildSampleState(t)

	var buf bytes.Buffer
	w := NewWriter(true, nil)
	require.NoError(t, w.Save(&buf, reg, tbl, Summary{SeqNumber: 1}))

	r := NewReader(true, nil)
	gotReg, _, _, err := r.Restore(&buf, 0, 8, tnode.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, reg.Count(), gotReg.Count())
}

func TestRestoreRejectsCorruptedChecksum(t *testing.T) {
	reg, tbl := buildSampleState(t)

	var buf bytes.Buffer
	w := NewWriter(false, nil)
	require.NoError(t, w.Save(&buf, reg, tbl, Summary{}))

	corrupted := buf.Bytes()
	corrupted[0] ^= 0xFF

	r := NewReader(false, nil)
	_, _, _, err := r.Restore(bytes.NewReader(corrupted), 0, 8, tnode.DefaultConfig())
	assert.Error(t, err)
}

func mustRoot(t *testing.T, reg *object.Registry) *object.Object {
	t.Helper()
	root, ok := reg.FindByNumber(object.IDRoot)
	require.True(t, ok)
	return root
}
