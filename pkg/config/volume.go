package config

import (
	"time"

	"github.com/marmos91/gofsp/pkg/engine"
)

// VolumeMountConfig names and sizes one engine.Volume mount, decoded the
// same way every other nested config struct in this file is: mapstructure
// tags for viper/env/flag layering, validator tags for the post-decode
// check pkg/config already runs on the rest of Config.
type VolumeMountConfig struct {
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	SectorSize               uint32 `mapstructure:"sector_size" validate:"omitempty,min=512" yaml:"sector_size,omitempty"`
	SectorsPerAllocationUnit uint32 `mapstructure:"sectors_per_allocation_unit" validate:"omitempty,min=1" yaml:"sectors_per_allocation_unit,omitempty"`
	FileInfoTimeout          time.Duration `mapstructure:"file_info_timeout" yaml:"file_info_timeout,omitempty"`

	CaseSensitive          bool   `mapstructure:"case_sensitive" yaml:"case_sensitive"`
	CasePreserved          bool   `mapstructure:"case_preserved" yaml:"case_preserved"`
	UnicodeOnDisk          bool   `mapstructure:"unicode_on_disk" yaml:"unicode_on_disk"`
	PersistentACLs         bool   `mapstructure:"persistent_acls" yaml:"persistent_acls"`
	ReparsePoints          bool   `mapstructure:"reparse_points" yaml:"reparse_points"`
	NamedStreams           bool   `mapstructure:"named_streams" yaml:"named_streams"`
	FlushAndPurgeOnCleanup bool   `mapstructure:"flush_and_purge_on_cleanup" yaml:"flush_and_purge_on_cleanup"`
	MaxComponentLength     uint32 `mapstructure:"max_component_length" validate:"omitempty,max=65535" yaml:"max_component_length,omitempty"`
	VolumePrefix           string `mapstructure:"volume_prefix" yaml:"volume_prefix,omitempty"`

	MetadataCacheCapacity int           `mapstructure:"metadata_cache_capacity" validate:"omitempty,min=0" yaml:"metadata_cache_capacity,omitempty"`
	MetadataCacheTTL      time.Duration `mapstructure:"metadata_cache_ttl" yaml:"metadata_cache_ttl,omitempty"`
}

// EngineVolumeConfig converts a decoded VolumeMountConfig into the
// engine.VolumeConfig its Volume is constructed with, layering whatever
// was explicitly set over engine.DefaultVolumeConfig's zero-value
// fallbacks.
func (m VolumeMountConfig) EngineVolumeConfig() engine.VolumeConfig {
	cfg := engine.DefaultVolumeConfig()
	if m.SectorSize != 0 {
		cfg.SectorSize = m.SectorSize
	}
	if m.SectorsPerAllocationUnit != 0 {
		cfg.SectorsPerAllocationUnit = m.SectorsPerAllocationUnit
	}
	if m.FileInfoTimeout != 0 {
		cfg.FileInfoTimeout = m.FileInfoTimeout
	}
	cfg.CaseSensitive = m.CaseSensitive
	cfg.CasePreserved = m.CasePreserved
	cfg.UnicodeOnDisk = m.UnicodeOnDisk
	cfg.PersistentACLs = m.PersistentACLs
	cfg.ReparsePoints = m.ReparsePoints
	cfg.NamedStreams = m.NamedStreams
	cfg.FlushAndPurgeOnCleanup = m.FlushAndPurgeOnCleanup
	if m.MaxComponentLength != 0 {
		cfg.MaxComponentLength = m.MaxComponentLength
	}
	if m.VolumePrefix != "" {
		cfg.VolumePrefix = m.VolumePrefix
	}
	if m.MetadataCacheCapacity != 0 {
		cfg.MetadataCacheCapacity = m.MetadataCacheCapacity
	}
	if m.MetadataCacheTTL != 0 {
		cfg.MetadataCacheTTL = m.MetadataCacheTTL
	}
	return cfg
}

// applyVolumeDefaults fills in the numeric fields whose zero value means
// "unset" rather than "explicitly zero" (the same convention
// applyCacheDefaults uses for CacheConfig.Size). Boolean fields are left
// as decoded: EngineVolumeConfig already falls back to
// engine.DefaultVolumeConfig for any VolumeMountConfig that was never
// part of the loaded document at all.
func applyVolumeDefaults(volumes []VolumeMountConfig) {
	defaults := engine.DefaultVolumeConfig()
	for i := range volumes {
		if volumes[i].SectorSize == 0 {
			volumes[i].SectorSize = defaults.SectorSize
		}
		if volumes[i].SectorsPerAllocationUnit == 0 {
			volumes[i].SectorsPerAllocationUnit = defaults.SectorsPerAllocationUnit
		}
		if volumes[i].MetadataCacheCapacity == 0 {
			volumes[i].MetadataCacheCapacity = defaults.MetadataCacheCapacity
		}
		if volumes[i].MetadataCacheTTL == 0 {
			volumes[i].MetadataCacheTTL = defaults.MetadataCacheTTL
		}
	}
}
