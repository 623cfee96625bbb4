package config

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)
	assert.True(t, opts.TagsECC)
	assert.False(t, opts.InbandTags)
	assert.Equal(t, "le", opts.StoredEndian)
	assert.Equal(t, uint32(2), opts.ReservedBlocks)
}

func TestToDeviceOptionsAppliesNoCheckpointMasterSwitch(t *testing.T) {
	m := MountOptions{NoCheckpoint: true, StoredEndian: "be"}
	dev, err := m.ToDeviceOptions()
	require.NoError(t, err)
	assert.True(t, dev.SkipCheckpointRead)
	assert.True(t, dev.SkipCheckpointWrite)
	assert.Equal(t, binary.BigEndian, dev.StoredEndian)
}

func TestToDeviceOptionsRejectsUnknownEndian(t *testing.T) {
	m := MountOptions{StoredEndian: "middle"}
	_, err := m.ToDeviceOptions()
	assert.Error(t, err)
}
