package engine

import "time"

// VolumeConfig enumerates the per-volume behavior parameters of §6.3.
// pkg/config decodes the on-disk/flag/env layers into this struct via
// mapstructure + validator tags, the same way it already validates other
// nested config structs in this codebase.
type VolumeConfig struct {
	SectorSize               uint32 `mapstructure:"sector_size" validate:"required,min=512"`
	SectorsPerAllocationUnit uint32 `mapstructure:"sectors_per_allocation_unit" validate:"required,min=1"`

	FileInfoTimeout time.Duration `mapstructure:"file_info_timeout" validate:"min=0"`

	CaseSensitive  bool `mapstructure:"case_sensitive"`
	CasePreserved  bool `mapstructure:"case_preserved"`
	UnicodeOnDisk  bool `mapstructure:"unicode_on_disk"`
	PersistentACLs bool `mapstructure:"persistent_acls"`

	ReparsePoints             bool `mapstructure:"reparse_points"`
	ReparsePointsAccessCheck  bool `mapstructure:"reparse_points_access_check"`
	NamedStreams              bool `mapstructure:"named_streams"`
	FlushAndPurgeOnCleanup    bool `mapstructure:"flush_and_purge_on_cleanup"`
	MaxComponentLength        uint32 `mapstructure:"max_component_length" validate:"min=0,max=65535"`
	VolumePrefix              string `mapstructure:"volume_prefix"`

	// MetadataCacheCapacity/MetadataCacheTTL size the C1 cache (not a
	// named §6.3 key, but every volume needs them; defaulted by
	// pkg/config the way CacheConfig is defaulted today).
	MetadataCacheCapacity int           `mapstructure:"metadata_cache_capacity" validate:"min=0"`
	MetadataCacheTTL      time.Duration `mapstructure:"metadata_cache_ttl" validate:"min=0"`
}

// DefaultVolumeConfig returns sane defaults, mirroring the teacher's
// pkg/config default-construction pattern for nested config structs.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		SectorSize:               4096,
		SectorsPerAllocationUnit: 1,
		FileInfoTimeout:          time.Second,
		CaseSensitive:            false,
		CasePreserved:            true,
		UnicodeOnDisk:            true,
		PersistentACLs:           true,
		ReparsePoints:            true,
		ReparsePointsAccessCheck: true,
		NamedStreams:             true,
		FlushAndPurgeOnCleanup:   true,
		MaxComponentLength:       255,
		MetadataCacheCapacity:    65536,
		MetadataCacheTTL:         10 * time.Second,
	}
}

// AllocationRoundedUp rounds size up to the nearest allocation unit, per
// §6.3's "sector_size/sectors_per_allocation_unit: allocation rounding".
func (c VolumeConfig) AllocationRoundedUp(size int64) int64 {
	unit := int64(c.SectorSize) * int64(c.SectorsPerAllocationUnit)
	if unit <= 0 {
		return size
	}
	if size%unit == 0 {
		return size
	}
	return (size/unit + 1) * unit
}
