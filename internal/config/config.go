package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "streamctl"
	AppDescription = "Streaming audio engine core (network -> parser -> buffer ring -> sink)"

	ConfigDir      = ".config/streamctl"
	ConfigFileName = "config.yml"
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/audiopipe/streamctl/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// EngineDefaults is the persisted, user-editable seed for StreamOptions.
// Unlike StreamOptions itself it is not tied to any one stream: it is
// loaded once at process start and copied into every StreamOptions the
// caller builds.
type EngineDefaults struct {
	Volume                 float64 `yaml:"volume"`
	PlaybackRate           float64 `yaml:"playback_rate"`
	BufferCount            int     `yaml:"buffer_count"`
	BufferSize             int     `yaml:"buffer_size"`
	BufferFillCountToStart int     `yaml:"buffer_fill_count_to_start"`
	BufferInfinite         bool    `yaml:"buffer_infinite"`
	TimeoutSeconds         int     `yaml:"timeout_seconds"`
	ProxyKind              string  `yaml:"proxy_kind"`
	ProxyHost              string  `yaml:"proxy_host"`
	ProxyPort              int     `yaml:"proxy_port"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*EngineDefaults, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultEngineDefaults(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultEngineDefaults(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultEngineDefaults(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultEngineDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultEngineDefaults(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *EngineDefaults) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultEngineDefaults() *EngineDefaults {
	return &EngineDefaults{
		Volume:                 DefaultVolume,
		PlaybackRate:           DefaultPlaybackRate,
		BufferCount:            DefaultBufferCount,
		BufferSize:             DefaultBufferSize,
		BufferFillCountToStart: DefaultBufferFillCountToStart,
		BufferInfinite:         false,
		TimeoutSeconds:         DefaultTimeoutSeconds,
		ProxyKind:              "none",
	}
}

func (c *EngineDefaults) clamp() {
	if c.Volume < MinVolume || c.Volume > MaxVolume {
		c.Volume = DefaultVolume
	}
	if c.PlaybackRate < MinPlaybackRate || c.PlaybackRate > MaxPlaybackRate {
		c.PlaybackRate = DefaultPlaybackRate
	}
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
}

// StreamOptions builds a StreamOptions for url seeded with these defaults.
func (c *EngineDefaults) StreamOptions(url string) StreamOptions {
	opts := StreamOptions{
		URL:                    url,
		FileType:               FileTypeUnspecified,
		BufferCount:            c.BufferCount,
		BufferSize:             c.BufferSize,
		BufferFillCountToStart: c.BufferFillCountToStart,
		BufferInfinite:         c.BufferInfinite,
		TimeoutSeconds:         c.TimeoutSeconds,
		PlaybackRate:           c.PlaybackRate,
		Volume:                 c.Volume,
	}

	switch c.ProxyKind {
	case "http":
		opts.Proxy = Proxy{Kind: ProxyHTTP, Host: c.ProxyHost, Port: c.ProxyPort}
	case "socks":
		opts.Proxy = Proxy{Kind: ProxySOCKS, Host: c.ProxyHost, Port: c.ProxyPort}
	case "system":
		opts.Proxy = Proxy{Kind: ProxySystem}
	default:
		opts.Proxy = Proxy{Kind: ProxyNone}
	}

	opts.Clamp()
	return opts
}
