package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/neko940709/mapd-core-stream/common"
)

// Config is the engine configuration. It is read once at engine start and is
// immutable afterwards.
type Config struct {
	Log    Log    `toml:"log"`
	Cache  Cache  `toml:"cache"`
	Device Device `toml:"device"`
	Join   Join   `toml:"join"`
}

type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format string `toml:"format"`
}

type Cache struct {
	// Capacity bounds the number of join hash tables kept by the engine. Zero
	// keeps every table for the lifetime of the engine.
	Capacity int `toml:"capacity"`
}

type Device struct {
	// Count is the number of accelerators the device manager exposes. Zero
	// means host-only execution.
	Count int `toml:"count"`
	// MemoryPerDevice is the number of bytes each accelerator can allocate.
	MemoryPerDevice int64 `toml:"memory-per-device"`
}

type Join struct {
	// AllowDictionaryTranslation lets a join proceed when the two sides use
	// different string dictionaries by remapping outer codes. When false such
	// joins are rejected as unsupported.
	AllowDictionaryTranslation bool `toml:"allow-dictionary-translation"`
	// ReplicationParallelism caps the number of devices copied to at once.
	// Zero means one goroutine per device.
	ReplicationParallelism int `toml:"replication-parallelism"`
}

const (
	defaultMemoryPerDevice = 1 << 30
)

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Cache: Cache{
			Capacity: 0,
		},
		Device: Device{
			Count:           0,
			MemoryPerDevice: defaultMemoryPerDevice,
		},
		Join: Join{
			AllowDictionaryTranslation: true,
			ReplicationParallelism:     0,
		},
	}
}

// Load reads a TOML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file '%s'", path)
	}
	return cfg, finish(cfg, md)
}

// Parse decodes TOML text on top of Default.
func Parse(text string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}
	return cfg, finish(cfg, md)
}

func finish(cfg Config, md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return common.NewJoinError(common.InvalidConfigError, "unknown config keys: %s", strings.Join(keys, ", "))
	}
	return cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("log.format", c.Log.Format)
	}
	if c.Cache.Capacity < 0 {
		return invalid("cache.capacity", c.Cache.Capacity)
	}
	if c.Device.Count < 0 {
		return invalid("device.count", c.Device.Count)
	}
	if c.Device.Count > 0 && c.Device.MemoryPerDevice <= 0 {
		return invalid("device.memory-per-device", c.Device.MemoryPerDevice)
	}
	if c.Join.ReplicationParallelism < 0 {
		return invalid("join.replication-parallelism", c.Join.ReplicationParallelism)
	}
	return nil
}

func invalid(key string, val any) error {
	return common.NewJoinError(common.InvalidConfigError, "invalid value for %s: %s", key, fmt.Sprint(val))
}
