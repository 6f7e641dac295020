package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/kelseyhightower/envconfig"
	"github.com/midden-io/midden/pkg/types"
	"gopkg.in/yaml.v3"
)

// VolumeConfig declares one cache volume.
type VolumeConfig struct {
	Name     string   `yaml:"name"`
	Path     string   `yaml:"path"`
	Capacity string   `yaml:"capacity"`
	Priority int      `yaml:"priority"`
	Status   string   `yaml:"status"`
	Roles    []string `yaml:"roles"`
}

// CapacityBytes parses the human-readable capacity ("20GB", "500MB").
func (v VolumeConfig) CapacityBytes() (int64, error) {
	if v.Capacity == "" {
		return 0, fmt.Errorf("volume %s has no capacity", v.Name)
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(v.Capacity)); err != nil {
		return 0, fmt.Errorf("volume %s capacity %q: %w", v.Name, v.Capacity, err)
	}
	return int64(size.Bytes()), nil
}

// RolesMask folds the configured role names into a bitmask.
func (v VolumeConfig) RolesMask() (int, error) {
	mask := 0
	for _, role := range v.Roles {
		switch role {
		case "general":
			mask |= types.RoleGeneralPurpose
		case "small":
			mask |= types.RoleSmallObjects
		case "large":
			mask |= types.RoleLargeObjects
		case "old-versions":
			mask |= types.RoleOldVersions
		case "restricted":
			mask |= types.RoleRestricted
		default:
			return 0, fmt.Errorf("volume %s: unknown role %q", v.Name, role)
		}
	}
	return mask, nil
}

// VolumeStatus parses the configured status name, defaulting to
// FOR_UPDATE.
func (v VolumeConfig) VolumeStatus() (types.VolumeStatus, error) {
	if v.Status == "" {
		return types.VolumeForUpdate, nil
	}
	st, ok := types.ParseVolumeStatus(v.Status)
	if !ok {
		return 0, fmt.Errorf("volume %s: unknown status %q", v.Name, v.Status)
	}
	return st, nil
}

// MonitorConfig tunes the integrity monitor worker.
type MonitorConfig struct {
	DutyCycle   time.Duration `yaml:"dutyCycle" envconfig:"MIDDEN_MONITOR_DUTY_CYCLE"`
	GracePeriod time.Duration `yaml:"gracePeriod" envconfig:"MIDDEN_MONITOR_GRACE_PERIOD"`
	StartOffset time.Duration `yaml:"startOffset" envconfig:"MIDDEN_MONITOR_START_OFFSET"`
}

// Config is midden's full runtime configuration.
type Config struct {
	DataDir     string `yaml:"dataDir" envconfig:"MIDDEN_DATA_DIR"`
	ArchiveDir  string `yaml:"archiveDir" envconfig:"MIDDEN_ARCHIVE_DIR"`
	HeadbagDir  string `yaml:"headbagDir" envconfig:"MIDDEN_HEADBAG_DIR"`
	QueueFile   string `yaml:"queueFile" envconfig:"MIDDEN_QUEUE_FILE"`
	StatusFile  string `yaml:"statusFile" envconfig:"MIDDEN_STATUS_FILE"`
	MetricsAddr string `yaml:"metricsAddr" envconfig:"MIDDEN_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" envconfig:"MIDDEN_LOG_LEVEL"`
	LogJSON     bool   `yaml:"logJSON" envconfig:"MIDDEN_LOG_JSON"`

	Volumes []VolumeConfig `yaml:"volumes"`
	Monitor MonitorConfig  `yaml:"monitor"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:     "/var/lib/midden",
		MetricsAddr: ":9187",
		LogLevel:    "info",
		Monitor: MonitorConfig{
			DutyCycle:   30 * time.Minute,
			GracePeriod: 24 * time.Hour,
		},
	}
}

// Load reads the YAML file at path (skipped when empty), then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := envconfig.Process("midden", cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if len(cfg.Volumes) == 0 {
		return nil, fmt.Errorf("no cache volumes configured")
	}
	if cfg.HeadbagDir == "" {
		cfg.HeadbagDir = cfg.DataDir + "/headbags"
	}
	if cfg.QueueFile == "" {
		cfg.QueueFile = cfg.DataDir + "/restore.queue"
	}
	if cfg.StatusFile == "" {
		cfg.StatusFile = cfg.DataDir + "/monitor-status.json"
	}
	return cfg, nil
}
