// Package config defines the options struct spec §6.3 names and loads it
// the way the teacher loads vconvert's config (pkg/vconvert/config.go):
// sane defaults registered on a viper instance, optionally overridden by a
// config file and environment variables, surfaced as a typed struct rather
// than scattered viper.Get calls so the rest of the store never imports
// viper directly.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Options is the struct passed to Store.Open/Store.Format (spec §6.3).
type Options struct {
	BlockSize int `mapstructure:"block_size"`

	JournalSizeBlocks int `mapstructure:"journal_size_blocks"`

	CheckpointIntervalMS      int `mapstructure:"checkpoint_interval_ms"`
	CheckpointWatermarkPct    int `mapstructure:"checkpoint_watermark_percent"`
	GroupCommitWindowUS       int `mapstructure:"group_commit_window_us"`

	CacheBlockMiB    int `mapstructure:"cache_block_mib"`
	CacheMetadataMiB int `mapstructure:"cache_metadata_mib"`

	HNSWM                 int    `mapstructure:"hnsw_m"`
	HNSWEfConstruction    int    `mapstructure:"hnsw_ef_construction"`
	DefaultEfSearch       int    `mapstructure:"default_ef_search"`
	HNSWMaxLevel          int    `mapstructure:"hnsw_max_level"`
	DistanceMetricDefault string `mapstructure:"distance_metric_default"`

	TxnMaxLifetimeMS int `mapstructure:"txn_max_lifetime_ms"`
}

// Defaults returns the spec §6.3 default values.
func Defaults() Options {
	return Options{
		BlockSize: 4096,

		JournalSizeBlocks: 4096,

		CheckpointIntervalMS:   300000,
		CheckpointWatermarkPct: 75,
		GroupCommitWindowUS:    5000,

		CacheBlockMiB:    96,
		CacheMetadataMiB: 32,

		HNSWM:              16,
		HNSWEfConstruction: 200,
		DefaultEfSearch:    50,
		HNSWMaxLevel:       16,

		DistanceMetricDefault: "l2",

		TxnMaxLifetimeMS: 30000,
	}
}

// Load builds an Options value from defaults, an optional config file, and
// environment variables prefixed VEXFS_ (e.g. VEXFS_HNSW_M), the same
// layering order the teacher uses for vconvert's config file plus
// viper.AutomaticEnv.
func Load(cfgFile string) (Options, error) {
	v := viper.New()
	applyDefaults(v, Defaults())

	v.SetEnvPrefix("vexfs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, vexfserr.New(vexfserr.InvalidArgument, "config.Load", err)
		}
	}

	var out Options
	if err := v.Unmarshal(&out); err != nil {
		return Options{}, vexfserr.New(vexfserr.InvalidArgument, "config.Load", err)
	}
	if err := Validate(out); err != nil {
		return Options{}, err
	}
	return out, nil
}

func applyDefaults(v *viper.Viper, d Options) {
	v.SetDefault("block_size", d.BlockSize)
	v.SetDefault("journal_size_blocks", d.JournalSizeBlocks)
	v.SetDefault("checkpoint_interval_ms", d.CheckpointIntervalMS)
	v.SetDefault("checkpoint_watermark_percent", d.CheckpointWatermarkPct)
	v.SetDefault("group_commit_window_us", d.GroupCommitWindowUS)
	v.SetDefault("cache_block_mib", d.CacheBlockMiB)
	v.SetDefault("cache_metadata_mib", d.CacheMetadataMiB)
	v.SetDefault("hnsw_m", d.HNSWM)
	v.SetDefault("hnsw_ef_construction", d.HNSWEfConstruction)
	v.SetDefault("default_ef_search", d.DefaultEfSearch)
	v.SetDefault("hnsw_max_level", d.HNSWMaxLevel)
	v.SetDefault("distance_metric_default", d.DistanceMetricDefault)
	v.SetDefault("txn_max_lifetime_ms", d.TxnMaxLifetimeMS)
}

// BindFlags registers the same options as pflag flags, for cmd/ binaries
// that want command-line overrides layered on top of Load's result.
func BindFlags(fs *pflag.FlagSet, o *Options) {
	fs.IntVar(&o.JournalSizeBlocks, "journal-size-blocks", o.JournalSizeBlocks, "journal region size in blocks")
	fs.IntVar(&o.CheckpointIntervalMS, "checkpoint-interval-ms", o.CheckpointIntervalMS, "periodic checkpoint interval")
	fs.IntVar(&o.CheckpointWatermarkPct, "checkpoint-watermark-percent", o.CheckpointWatermarkPct, "forced checkpoint occupancy watermark")
	fs.IntVar(&o.GroupCommitWindowUS, "group-commit-window-us", o.GroupCommitWindowUS, "max group commit delay")
	fs.IntVar(&o.CacheBlockMiB, "cache-block-mib", o.CacheBlockMiB, "block cache capacity in MiB")
	fs.IntVar(&o.CacheMetadataMiB, "cache-metadata-mib", o.CacheMetadataMiB, "metadata cache capacity in MiB")
	fs.IntVar(&o.HNSWM, "hnsw-m", o.HNSWM, "HNSW neighbor cap M")
	fs.IntVar(&o.HNSWEfConstruction, "hnsw-ef-construction", o.HNSWEfConstruction, "HNSW construction candidate list size")
	fs.IntVar(&o.DefaultEfSearch, "default-ef-search", o.DefaultEfSearch, "default HNSW search candidate list size")
	fs.IntVar(&o.HNSWMaxLevel, "hnsw-max-level", o.HNSWMaxLevel, "HNSW max layer")
	fs.StringVar(&o.DistanceMetricDefault, "distance-metric", o.DistanceMetricDefault, "default distance metric")
	fs.IntVar(&o.TxnMaxLifetimeMS, "txn-max-lifetime-ms", o.TxnMaxLifetimeMS, "transaction abort threshold")
}

// Validate rejects option combinations the rest of the store can't act on.
func Validate(o Options) error {
	if o.BlockSize != 4096 {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "config.Validate", "block_size must be 4096, got %d", o.BlockSize)
	}
	if o.JournalSizeBlocks <= 0 {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "config.Validate", "journal_size_blocks must be positive")
	}
	if o.HNSWM <= 0 {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "config.Validate", "hnsw_m must be positive")
	}
	switch o.DistanceMetricDefault {
	case "l2", "cosine", "inner", "l1", "hamming":
	default:
		return vexfserr.Wrap(vexfserr.InvalidArgument, "config.Validate", "unknown distance_metric_default %q", o.DistanceMetricDefault)
	}
	return nil
}
