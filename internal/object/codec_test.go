package object

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nandfs/yaffs2go/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackHeaderRoundTrip(t *testing.T) {
	h := Header{
		Type:        tags.ObjTypeFile,
		ParentObjID: IDRoot,
		Name:        "notes.txt",
		Mode:        0644,
		UID:         1000,
		GID:         1000,
		ATime:       1000,
		MTime:       1001,
		CTime:       1002,
		EquivID:     -1,
		ShadowsObj:  -1,
	}
	h.SetFileSize(1 << 20)

	packed, err := PackHeader(h)
	require.NoError(t, err)

	got, err := UnpackHeader(packed)
	require.NoError(t, err)
	assert.Equal(t, h.Type, got.Type)
	assert.Equal(t, h.Name, got.Name)
	assert.Equal(t, h.FileSize(), got.FileSize())
	assert.Equal(t, h.Mode, got.Mode)
	assert.Equal(t, h.EquivID, got.EquivID)
}

// TestPackUnpackHeaderRoundTripExhaustive diffs the whole struct (rather
// than field-by-field asserts) so a field added to Header later and
// forgotten in Pack/Unpack shows up here instead of passing silently.
func TestPackUnpackHeaderRoundTripExhaustive(t *testing.T) {
	h := Header{
		Type:        tags.ObjTypeHardlink,
		ParentObjID: IDLostNFound,
		Name:        "alias-target",
		Alias:       "not used on a hardlink but packed/unpacked regardless",
		Mode:        0600,
		UID:         42,
		GID:         7,
		ATime:       10,
		MTime:       20,
		CTime:       30,
		EquivID:     99,
		ShadowsObj:  -1,
		XAttr: map[string][]byte{
			"user.checksum": {0xDE, 0xAD, 0xBE, 0xEF},
		},
	}
	h.SetFileSize(1<<32 + 7)

	packed, err := PackHeader(h)
	require.NoError(t, err)
	got, err := UnpackHeader(packed)
	require.NoError(t, err)

	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPackHeaderRejectsOversizeName(t *testing.T) {
	h := Header{Type: tags.ObjTypeFile, Name: string(make([]byte, MaxNameLen+1))}
	_, err := PackHeader(h)
	assert.Error(t, err)
}
