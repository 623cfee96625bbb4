// Package config loads mount options from environment variables and an
// optional YAML file via Viper, layering defaults, then config
// file, then environment, and binds the result into internal/fs.Options
// (§6 External Interfaces: mount option enumeration).
package config

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/viper"

	"github.com/nandfs/yaffs2go/internal/fs"
)

// MountOptions mirrors every flag in §6's enumeration, unmarshaled by
// Viper via mapstructure tags the way LoadDMGConfig unmarshals DMGConfig.
type MountOptions struct {
	InbandTags          bool   `mapstructure:"inband_tags"`
	TagsECC              bool   `mapstructure:"tags_ecc"`
	NarrowTnodes         bool   `mapstructure:"narrow_tnodes"`
	NoCheckpointRead     bool   `mapstructure:"no_checkpoint_read"`
	NoCheckpointWrite    bool   `mapstructure:"no_checkpoint_write"`
	NoCheckpoint         bool   `mapstructure:"no_checkpoint"`
	LazyLoad             bool   `mapstructure:"lazy_load"`
	EmptyLostAndFound    bool   `mapstructure:"empty_lost_and_found"`
	DisableSummary       bool   `mapstructure:"disable_summary"`
	DisableBadBlockMark  bool   `mapstructure:"disable_bad_block_marking"`
	StoredEndian         string `mapstructure:"stored_endian"` // native, le, be
	MaxObjects           int    `mapstructure:"max_objects"`
	CacheBypassAligned   bool   `mapstructure:"cache_bypass_aligned"`
	CheckpointCompress   bool   `mapstructure:"checkpoint_compress"`
	ReservedBlocks       uint32 `mapstructure:"reserved_blocks"`
	CacheCapacity        int    `mapstructure:"cache_capacity"`
	GCPassiveThreshold   uint16 `mapstructure:"gc_passive_threshold"`
	GCRefreshPeriod      uint32 `mapstructure:"gc_refresh_period"`
}

// Load reads mount options from built-in defaults, an optional YAML file
// (searched by name yaffs2.yaml), and environment variables prefixed
// YAFFS2_, in that increasing-precedence order.
func Load(configPath string) (*MountOptions, error) {
	v := viper.New()
	v.SetConfigName("yaffs2")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.yaffs2")
		v.AddConfigPath("/etc/yaffs2")
	}

	v.SetDefault("inband_tags", false)
	v.SetDefault("tags_ecc", true)
	v.SetDefault("narrow_tnodes", false)
	v.SetDefault("no_checkpoint_read", false)
	v.SetDefault("no_checkpoint_write", false)
	v.SetDefault("no_checkpoint", false)
	v.SetDefault("lazy_load", false)
	v.SetDefault("empty_lost_and_found", false)
	v.SetDefault("disable_summary", false)
	v.SetDefault("disable_bad_block_marking", false)
	v.SetDefault("stored_endian", "le")
	v.SetDefault("max_objects", 0)
	v.SetDefault("cache_bypass_aligned", false)
	v.SetDefault("checkpoint_compress", false)
	v.SetDefault("reserved_blocks", 2)
	v.SetDefault("cache_capacity", 64)
	v.SetDefault("gc_passive_threshold", 4)
	v.SetDefault("gc_refresh_period", 0)

	v.SetEnvPrefix("YAFFS2")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var opts MountOptions
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &opts, nil
}

// ToDeviceOptions translates the flat mount-option view into fs.Options,
// applying the no_checkpoint master switch over the individual
// read/write toggles.
func (m MountOptions) ToDeviceOptions() (fs.Options, error) {
	endian, err := parseEndian(m.StoredEndian)
	if err != nil {
		return fs.Options{}, err
	}
	opt := fs.DefaultOptions()
	opt.InbandTags = m.InbandTags
	opt.TagsECC = m.TagsECC
	opt.NarrowTnodes = m.NarrowTnodes
	opt.SkipCheckpointRead = m.NoCheckpointRead || m.NoCheckpoint
	opt.SkipCheckpointWrite = m.NoCheckpointWrite || m.NoCheckpoint
	opt.LazyLoad = m.LazyLoad
	opt.EmptyLostNFound = m.EmptyLostAndFound
	opt.DisableSummary = m.DisableSummary
	opt.DisableBadBlockMark = m.DisableBadBlockMark
	opt.StoredEndian = endian
	opt.MaxObjects = m.MaxObjects
	opt.CacheBypassAligned = m.CacheBypassAligned
	opt.CheckpointCompress = m.CheckpointCompress
	if m.ReservedBlocks > 0 {
		opt.ReservedBlocks = m.ReservedBlocks
	}
	if m.CacheCapacity > 0 {
		opt.CacheCapacity = m.CacheCapacity
	}
	if m.GCPassiveThreshold > 0 {
		opt.GCPassiveThreshold = m.GCPassiveThreshold
	}
	opt.GCRefreshPeriod = m.GCRefreshPeriod
	return opt, nil
}

func parseEndian(s string) (binary.ByteOrder, error) {
	switch s {
	case "", "native", "le":
		return binary.LittleEndian, nil
	case "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("config: stored_endian %q must be one of native, le, be", s)
	}
}
