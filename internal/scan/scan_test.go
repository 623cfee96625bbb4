package scan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/nandfs/yaffs2go/internal/block"
	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/nand/filedriver"
	"github.com/nandfs/yaffs2go/internal/object"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/nandfs/yaffs2go/internal/tnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChunksPerBlock = 4

func newTestDevice(t *testing.T, numBlocks uint32) *nand.Device {
	t.Helper()
	drv, err := filedriver.New(filepath.Join(t.TempDir(), "nand.img"), 2048, 64, testChunksPerBlock, numBlocks)
	require.NoError(t, err)
	dev, err := nand.NewDevice(drv, nand.Geometry{
		TotalBytesPerChunk: 2048,
		ChunksPerBlock:     testChunksPerBlock,
		SpareBytesPerChunk: 64,
		StartBlock:         0,
		EndBlock:           numBlocks - 1,
		NReservedBlocks:    1,
		InstanceID:         uuid.New(),
	})
	require.NoError(t, err)
	return dev
}

// fakeLog holds planted (tags, header-payload) pairs keyed by physical
// chunk number, used to drive the scanner without a real write path.
type fakeLog struct {
	chunks map[uint32]tags.ExtTags
	hdrs   map[uint32][]byte
}

func newFakeLog() *fakeLog {
	return &fakeLog{chunks: make(map[uint32]tags.ExtTags), hdrs: make(map[uint32][]byte)}
}

func (f *fakeLog) plantHeader(chunk uint32, objID, seq uint32, h object.Header, extra tags.Extra) {
	extra.ObjType = h.Type
	extra.ParentID = h.ParentObjID
	extra.FileSize = h.FileSize()
	t := tags.NewHeaderTags(objID, seq, extra)
	f.chunks[chunk] = t
	payload, err := object.PackHeader(h)
	if err != nil {
		panic(err)
	}
	f.hdrs[chunk] = payload
}

func (f *fakeLog) plantData(chunk, objID, logicalChunkID, seq uint32) {
	f.chunks[chunk] = tags.NewDataTags(objID, logicalChunkID, 100, seq)
}

func (f *fakeLog) reader() TagReader {
	return func(chunk uint32) (tags.ExtTags, []byte, error) {
		t, ok := f.chunks[chunk]
		if !ok {
			return tags.ExtTags{}, nil, nil
		}
		return t, f.hdrs[chunk], nil
	}
}

func TestScanReconstructsRootAndFile(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3), ParentObjID: 0, Name: ""}, tags.Extra{})
	log.plantHeader(1, 10, 101, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "a.txt"}, tags.Extra{})
	log.plantData(2, 10, 0, 102)

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	root, ok := result.Registry.FindByNumber(object.IDRoot)
	require.True(t, ok)
	file, ok := result.Registry.FindByName(root, "a.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(10), file.ObjID)

	phys, ok := file.File.Tnodes.Find(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(2), phys)
}

func TestScanNewerHeaderWinsOverOlder(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3)}, tags.Extra{})
	log.plantHeader(1, 10, 101, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "old-name"}, tags.Extra{})
	log.plantHeader(4, 10, 200, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "new-name"}, tags.Extra{})

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	obj, ok := result.Registry.FindByNumber(10)
	require.True(t, ok)
	assert.Equal(t, "new-name", obj.Name)
}

func TestScanShadowedObjectIsDiscarded(t *testing.T) {
	dev := newTestDevice(t, 3)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3)}, tags.Extra{})
	log.plantHeader(1, 20, 101, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "victim"}, tags.Extra{})
	log.plantHeader(4, 21, 150, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "mover"}, tags.Extra{Shadows: 20})

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	_, ok := result.Registry.FindByNumber(20)
	assert.False(t, ok)
	mover, ok := result.Registry.FindByNumber(21)
	require.True(t, ok)
	assert.Equal(t, "mover", mover.Name)
}

func TestScanRelinksOrphansToLostAndFound(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3)}, tags.Extra{})
	log.plantHeader(1, 50, 101, object.Header{Type: tags.ObjType(1), ParentObjID: 999, Name: "orphan.txt"}, tags.Extra{})

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	lnf, ok := result.Registry.FindByNumber(object.IDLostNFound)
	require.True(t, ok)
	found, ok := result.Registry.FindByName(lnf, "orphan.txt")
	assert.True(t, ok)
	assert.Equal(t, uint32(50), found.ObjID)
}

func TestScanDataChunkInNewerBlockThanItsHeaderIsIndexed(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	// The header lives in the low-sequence block (written once, at create
	// time); the file's only data chunk lands in the high-sequence block,
	// the way a file's data keeps rolling into newer blocks long after its
	// header was written. Descending-sequence scan order visits the data
	// chunk's block before the header's.
	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3)}, tags.Extra{})
	log.plantHeader(1, 10, 101, object.Header{Type: tags.ObjType(1), ParentObjID: object.IDRoot, Name: "big.bin"}, tags.Extra{})
	log.plantData(4, 10, 0, 300)

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	file, ok := result.Registry.FindByName(mustRoot(t, result.Registry), "big.bin")
	require.True(t, ok)
	assert.False(t, file.Fake)
	phys, ok := file.File.Tnodes.Find(0)
	assert.True(t, ok)
	assert.Equal(t, uint32(4), phys)
}

func TestScanDropsDataChunksWithNoMatchingHeader(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()

	log.plantHeader(0, object.IDRoot, 100, object.Header{Type: tags.ObjType(3)}, tags.Extra{})
	log.plantData(4, 77, 0, 300)

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	result, err := sc.Scan(context.Background())
	require.NoError(t, err)

	_, ok := result.Registry.FindByNumber(77)
	assert.False(t, ok)
}

func mustRoot(t *testing.T, reg *object.Registry) *object.Object {
	t.Helper()
	root, ok := reg.FindByNumber(object.IDRoot)
	require.True(t, ok)
	return root
}

func TestScanUnfixableECCPrioritisesBlock(t *testing.T) {
	dev := newTestDevice(t, 2)
	tbl := block.NewTable(dev.Geometry.NumBlocks(), testChunksPerBlock)
	log := newFakeLog()
	log.chunks[3] = tags.ExtTags{ChunkUsed: true, ObjID: 99, ChunkID: 1, ECCResult: nand.ECCUnfixed, SeqNumber: 100}

	sc := NewScanner(dev, tbl, log.reader(), Options{TnodeConfig: tnode.DefaultConfig()}, nil)
	_, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, tbl.Info(0).GCPrioritise)
}
