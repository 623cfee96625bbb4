package tags

import (
	"encoding/binary"
	"testing"

	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripDataChunk(t *testing.T) {
	c := NewCodec(ModeOOB, true, binary.LittleEndian, false)
	orig := NewDataTags(42, 7, 1024, 5000)

	packed, err := c.Pack(orig)
	require.NoError(t, err)

	got, err := c.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, orig.ObjID, got.ObjID)
	assert.Equal(t, orig.ChunkID, got.ChunkID)
	assert.Equal(t, orig.NBytes, got.NBytes)
	assert.Equal(t, orig.SeqNumber, got.SeqNumber)
	assert.Equal(t, nand.ECCNoError, got.ECCResult)
	assert.False(t, got.IsHeader())
	assert.Equal(t, uint32(6), got.LogicalChunkID())
}

func TestCodecRoundTripHeaderChunk(t *testing.T) {
	c := NewCodec(ModeOOB, true, binary.LittleEndian, false)
	orig := NewHeaderTags(10, 123, Extra{
		ParentID: 1,
		IsShrink: true,
		Shadows:  99,
		ObjType:  ObjTypeFile,
		FileSize: 5000,
		EquivID:  0,
	})

	packed, err := c.Pack(orig)
	require.NoError(t, err)

	got, err := c.Unpack(packed)
	require.NoError(t, err)
	assert.True(t, got.IsHeader())
	assert.True(t, got.ExtraAvailable)
	assert.Equal(t, uint32(1), got.Extra.ParentID)
	assert.True(t, got.Extra.IsShrink)
	assert.Equal(t, uint32(99), got.Extra.Shadows)
	assert.Equal(t, ObjTypeFile, got.Extra.ObjType)
	assert.Equal(t, uint64(5000), got.Extra.FileSize)
}

func TestCodecSingleBitErrorIsFixed(t *testing.T) {
	c := NewCodec(ModeOOB, true, binary.LittleEndian, false)
	orig := NewDataTags(1, 0, 512, 4096)
	packed, err := c.Pack(orig)
	require.NoError(t, err)

	// Flip one bit in the body (not the ECC trailer itself).
	packed[2] ^= 0x01

	got, err := c.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, nand.ECCFixed, got.ECCResult)
	assert.Equal(t, orig.ObjID, got.ObjID)
}

func TestCodecLegacyRoundTrip(t *testing.T) {
	c := NewCodec(ModeOOB, true, binary.LittleEndian, true)
	orig := ExtTags{ObjID: 5, ChunkID: 3, NBytes: 200}

	packed, err := c.Pack(orig)
	require.NoError(t, err)
	got, err := c.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, orig.ObjID, got.ObjID)
	assert.Equal(t, orig.ChunkID, got.ChunkID)
	assert.Equal(t, orig.NBytes, got.NBytes)
}

func TestPackedLenMatchesPackOutput(t *testing.T) {
	c := NewCodec(ModeInband, true, binary.BigEndian, false)
	withExtra := NewHeaderTags(1, 1, Extra{ObjType: ObjTypeDirectory})
	packed, err := c.Pack(withExtra)
	require.NoError(t, err)
	assert.Equal(t, c.PackedLen(true), len(packed))

	withoutExtra := NewDataTags(1, 0, 1, 1)
	packed2, err := c.Pack(withoutExtra)
	require.NoError(t, err)
	assert.Equal(t, c.PackedLen(false), len(packed2))
}
