package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nandfs/yaffs2go/internal/tags"
)

// PackHeader renders a Header to its on-flash byte form, the payload
// written to a chunk's header chunk (tags.ExtTags.IsHeader() == true). The
// layout is a fixed numeric preamble followed by two length-prefixed
// strings (name, alias) and the xattr list, mirroring the
// packed-tag approach internal/tags/codec.go uses for the same reason:
// every numeric field has a stable width so Unpack never has to guess.
func PackHeader(h Header) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fields := []uint32{
		uint32(h.Type), h.ParentObjID, h.Mode, h.UID, h.GID,
		h.ATime, h.MTime, h.CTime, h.FileSizeLow, h.FileSizeHigh,
		h.RDev, h.InbandShadowed, h.InbandIsShrink,
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("object: pack header: %w", err)
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.EquivID); err != nil {
		return nil, fmt.Errorf("object: pack header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.ShadowsObj); err != nil {
		return nil, fmt.Errorf("object: pack header: %w", err)
	}
	if err := writeString(&buf, h.Name); err != nil {
		return nil, err
	}
	if err := writeString(&buf, h.Alias); err != nil {
		return nil, err
	}
	if err := writeXAttr(&buf, h.XAttr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackHeader decodes bytes produced by PackHeader.
func UnpackHeader(data []byte) (Header, error) {
	r := bytes.NewReader(data)
	var h Header
	var objType uint32
	numeric := []*uint32{
		&objType, &h.ParentObjID, &h.Mode, &h.UID, &h.GID,
		&h.ATime, &h.MTime, &h.CTime, &h.FileSizeLow, &h.FileSizeHigh,
		&h.RDev, &h.InbandShadowed, &h.InbandIsShrink,
	}
	for _, f := range numeric {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Header{}, fmt.Errorf("object: unpack header: %w", err)
		}
	}
	h.Type = tags.ObjType(objType)
	if err := binary.Read(r, binary.LittleEndian, &h.EquivID); err != nil {
		return Header{}, fmt.Errorf("object: unpack header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.ShadowsObj); err != nil {
		return Header{}, fmt.Errorf("object: unpack header: %w", err)
	}
	var err error
	if h.Name, err = readString(r); err != nil {
		return Header{}, err
	}
	if h.Alias, err = readString(r); err != nil {
		return Header{}, err
	}
	if h.XAttr, err = readXAttr(r); err != nil {
		return Header{}, err
	}
	return h, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > MaxNameLen {
		return fmt.Errorf("object: string %q exceeds %d bytes", s, MaxNameLen)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(s))); err != nil {
		return fmt.Errorf("object: pack string: %w", err)
	}
	buf.WriteString(s)
	return nil
}

// writeXAttr serializes a name->value map as a count-prefixed sequence of
// (name, value) pairs, each length-prefixed the same way writeString is.
func writeXAttr(buf *bytes.Buffer, attrs map[string][]byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(attrs))); err != nil {
		return fmt.Errorf("object: pack xattr count: %w", err)
	}
	for name, value := range attrs {
		if err := writeString(buf, name); err != nil {
			return err
		}
		if len(value) > 0xFFFF {
			return fmt.Errorf("object: xattr value for %q too large", name)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint16(len(value))); err != nil {
			return fmt.Errorf("object: pack xattr value length: %w", err)
		}
		buf.Write(value)
	}
	return nil
}

func readXAttr(r *bytes.Reader) (map[string][]byte, error) {
	var count uint16
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("object: unpack xattr count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	attrs := make(map[string][]byte, count)
	for i := uint16(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("object: unpack xattr value length: %w", err)
		}
		value := make([]byte, n)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("object: unpack xattr value: %w", err)
		}
		attrs[name] = value
	}
	return attrs, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("object: unpack string: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("object: unpack string: %w", err)
	}
	return string(b), nil
}
