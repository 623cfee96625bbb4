package tags

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nandfs/yaffs2go/internal/nand"
	"github.com/nandfs/yaffs2go/internal/yerrors"
)

// legacyPackedLen is the length of the YAFFS1-style fallback record's
// packed bitfields; with ECC on, a trailing uint16 follows it, holding 12
// parity bits plus an overall-parity bit.
const legacyPackedLen = 8

// formatFlagECC and formatFlagExtra are bits of the packed byte 0 of a
// YAFFS2-style variable record: a 2-byte ECC trailer is present, and the
// header-only extra fields are present.
const (
	formatFlagECC   = 1 << 0
	formatFlagExtra = 1 << 1
)

// Codec packs and unpacks ExtTags records to/from on-flash bytes.
type Codec struct {
	Mode      StorageMode
	ECCEnable bool
	Endian    binary.ByteOrder
	// Legacy selects the YAFFS1-style fixed 8-byte + 12-bit-ECC fallback
	// format required by platforms that can't accommodate the variable
	// YAFFS2 packed record.
	Legacy bool
}

// NewCodec returns a Codec with the given storage mode, tag-ECC setting,
// byte order and legacy-format flag; it applies no defaults of its own.
func NewCodec(mode StorageMode, eccEnable bool, endian binary.ByteOrder, legacy bool) *Codec {
	return &Codec{Mode: mode, ECCEnable: eccEnable, Endian: endian, Legacy: legacy}
}

// PackedLen returns how many bytes Pack will produce for the given record,
// which callers need to size OOB buffers or inband tail regions.
func (c *Codec) PackedLen(hasExtra bool) int {
	if c.Legacy {
		return legacyPackedLen + 2
	}
	n := 1 + 4 + 4 + 4 + 4 // flags + objID + chunkID + nBytes + seq
	if hasExtra {
		n += 4 + 1 + 4 + 4 + 8 + 4 // parentID + flags + shadows + objType + fileSize + equivID
	}
	if c.ECCEnable {
		n += 2
	}
	return n
}

// Pack serializes t into its on-flash byte form.
func (c *Codec) Pack(t ExtTags) ([]byte, error) {
	if c.Legacy {
		return c.packLegacy(t)
	}
	return c.packVariable(t)
}

func (c *Codec) packVariable(t ExtTags) ([]byte, error) {
	var buf bytes.Buffer
	flags := byte(0)
	if c.ECCEnable {
		flags |= formatFlagECC
	}
	if t.ExtraAvailable {
		flags |= formatFlagExtra
	}
	buf.WriteByte(flags)
	if err := binary.Write(&buf, c.Endian, t.ObjID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, c.Endian, t.ChunkID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, c.Endian, t.NBytes); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, c.Endian, t.SeqNumber); err != nil {
		return nil, err
	}
	if t.ExtraAvailable {
		exFlags := byte(0)
		if t.Extra.IsShrink {
			exFlags |= 1
		}
		if t.Extra.Shadows != 0 {
			exFlags |= 2
		}
		if err := binary.Write(&buf, c.Endian, t.Extra.ParentID); err != nil {
			return nil, err
		}
		buf.WriteByte(exFlags)
		if err := binary.Write(&buf, c.Endian, t.Extra.Shadows); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, c.Endian, uint32(t.Extra.ObjType)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, c.Endian, t.Extra.FileSize); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, c.Endian, t.Extra.EquivID); err != nil {
			return nil, err
		}
	}
	out := buf.Bytes()
	if c.ECCEnable {
		ecc := eccHamming(out)
		eccBytes := make([]byte, 2)
		c.Endian.PutUint16(eccBytes, ecc)
		out = append(out, eccBytes...)
	}
	return out, nil
}

func (c *Codec) packLegacy(t ExtTags) ([]byte, error) {
	// Bitfield layout matching yaffs_tags: chunk_id:20 serial:2
	// n_bytes_lsb:10 obj_id:18 ecc:12 n_bytes_msb:2, packed here as two
	// little-endian u32 words for simplicity regardless of Codec.Endian
	// (the legacy format is always a fixed physical layout).
	var word0, word1 uint32
	word0 = (t.ChunkID & 0xFFFFF) | ((0 & 0x3) << 20) | ((t.NBytes & 0x3FF) << 22)
	word1 = (t.ObjID & 0x3FFFF) | (((t.NBytes >> 10) & 0x3) << 30)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], word0)
	binary.LittleEndian.PutUint32(buf[4:8], word1)
	out := append([]byte{}, buf...)
	if c.ECCEnable {
		ecc := eccHamming(out)
		eccBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(eccBytes, ecc)
		out = append(out, eccBytes...)
	}
	return out, nil
}

// Unpack decodes buf into an ExtTags record. If ECC is enabled and a
// single-bit error is found, it is corrected in place and ECCResult is set
// to ECCFixed; a multi-bit error yields ECCUnfixed and the caller must
// treat the chunk as absent, per spec. buf may be longer than the record
// (a whole spare area, say); a variable record's bytes past the length its
// format flags give are ignored.
func (c *Codec) Unpack(buf []byte) (ExtTags, error) {
	if c.Legacy {
		return c.unpackLegacy(buf)
	}
	return c.unpackVariable(buf)
}

func (c *Codec) unpackVariable(buf []byte) (ExtTags, error) {
	if len(buf) < 1 {
		return ExtTags{}, fmt.Errorf("tags: %w: empty record", yerrors.ErrTagInvalid)
	}
	eccResult := nand.ECCNoError
	body := buf
	var storedECC uint16
	hasECC := buf[0]&formatFlagECC != 0
	recLen := 1 + 4 + 4 + 4 + 4
	if buf[0]&formatFlagExtra != 0 {
		recLen += 4 + 1 + 4 + 4 + 8 + 4
	}
	if hasECC {
		recLen += 2
	}
	if len(buf) > recLen {
		buf = buf[:recLen]
		body = buf
	}
	if hasECC {
		if len(buf) < 2 {
			return ExtTags{}, fmt.Errorf("tags: %w: truncated ecc trailer", yerrors.ErrTagInvalid)
		}
		body = buf[:len(buf)-2]
		storedECC = c.Endian.Uint16(buf[len(buf)-2:])
		bodyCopy := append([]byte{}, body...)
		pos, correctable, mismatch := eccCheck(bodyCopy, storedECC)
		if mismatch {
			if correctable {
				eccApplyFix(bodyCopy, pos)
				body = bodyCopy
				eccResult = nand.ECCFixed
			} else {
				return ExtTags{ECCResult: nand.ECCUnfixed}, nil
			}
		}
	}
	r := bytes.NewReader(body[1:])
	var t ExtTags
	hasExtra := body[0]&formatFlagExtra != 0
	if err := binary.Read(r, c.Endian, &t.ObjID); err != nil {
		return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
	}
	if err := binary.Read(r, c.Endian, &t.ChunkID); err != nil {
		return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
	}
	if err := binary.Read(r, c.Endian, &t.NBytes); err != nil {
		return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
	}
	if err := binary.Read(r, c.Endian, &t.SeqNumber); err != nil {
		return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
	}
	if hasExtra {
		t.ExtraAvailable = true
		var exFlags byte
		if err := binary.Read(r, c.Endian, &t.Extra.ParentID); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
		if err := binary.Read(r, c.Endian, &exFlags); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
		t.Extra.IsShrink = exFlags&1 != 0
		if err := binary.Read(r, c.Endian, &t.Extra.Shadows); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
		var objType uint32
		if err := binary.Read(r, c.Endian, &objType); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
		t.Extra.ObjType = ObjType(objType)
		if err := binary.Read(r, c.Endian, &t.Extra.FileSize); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
		if err := binary.Read(r, c.Endian, &t.Extra.EquivID); err != nil {
			return ExtTags{}, fmt.Errorf("tags: %w: %v", yerrors.ErrTagInvalid, err)
		}
	}
	t.ChunkUsed = true
	t.ECCResult = eccResult
	return t, nil
}

func (c *Codec) unpackLegacy(buf []byte) (ExtTags, error) {
	if len(buf) < legacyPackedLen {
		return ExtTags{}, fmt.Errorf("tags: %w: short legacy record", yerrors.ErrTagInvalid)
	}
	eccResult := nand.ECCNoError
	body := append([]byte{}, buf[:legacyPackedLen]...)
	if c.ECCEnable && len(buf) >= legacyPackedLen+2 {
		storedECC := binary.LittleEndian.Uint16(buf[legacyPackedLen : legacyPackedLen+2])
		pos, correctable, mismatch := eccCheck(body, storedECC)
		if mismatch {
			if correctable {
				eccApplyFix(body, pos)
				eccResult = nand.ECCFixed
			} else {
				return ExtTags{ECCResult: nand.ECCUnfixed}, nil
			}
		}
	}
	word0 := binary.LittleEndian.Uint32(body[0:4])
	word1 := binary.LittleEndian.Uint32(body[4:8])
	nBytesLSB := (word0 >> 22) & 0x3FF
	nBytesMSB := (word1 >> 30) & 0x3
	return ExtTags{
		ChunkUsed: true,
		ChunkID:   word0 & 0xFFFFF,
		NBytes:    (nBytesMSB << 10) | nBytesLSB,
		ObjID:     word1 & 0x3FFFF,
		ECCResult: eccResult,
	}, nil
}
