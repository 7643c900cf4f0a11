package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the bridge configuration. Values come from an optional YAML
// file overlaid with environment variables; environment wins.
type Config struct {
	// ListenHost is the address the UPnP event listener binds to. Empty means
	// the first usable local interface address is picked at startup.
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`

	// APIAddr is the host:port of the HTTP control API.
	APIAddr   string `yaml:"api_addr"`
	APISecret string `yaml:"api_secret"`

	SQLiteDBPath string `yaml:"db_path"`

	// DataDir holds static assets served by the event listener (silence
	// tracks and other fixed audio). TempDir holds generated playlists and
	// TTS output.
	DataDir string `yaml:"data_dir"`
	TempDir string `yaml:"temp_dir"`

	SoapTimeoutMs int `yaml:"soap_timeout_ms"`

	SSDPTimeoutMs      int `yaml:"ssdp_timeout_ms"`
	SSDPPasses         int `yaml:"ssdp_passes"`
	SSDPPassIntervalMs int `yaml:"ssdp_pass_interval_ms"`

	// TempFileMaxAgeHours bounds how long generated playlist/TTS files are
	// kept before the scheduler garbage-collects them.
	TempFileMaxAgeHours int `yaml:"temp_file_max_age_hours"`

	// TTSProgram is the external program invoked to render speech to an
	// audio file. Empty disables TTS playback.
	TTSProgram string `yaml:"tts_program"`
}

const (
	DefaultListenPort      = 7373
	DefaultSoapTimeoutMs   = 10000
	DefaultTempFileMaxAgeH = 720
	minTempFileMaxAgeH     = 1
	maxTempFileMaxAgeH     = 87600
)

// Load reads the YAML file at path (if path is non-empty and the file exists)
// and applies environment variable overrides. Missing file is not an error;
// a malformed file is.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenPort:          DefaultListenPort,
		APIAddr:             "0.0.0.0:9000",
		SQLiteDBPath:        "./data/sonos-bridge.db",
		DataDir:             "./data/static",
		TempDir:             os.TempDir() + "/sonos",
		SoapTimeoutMs:       DefaultSoapTimeoutMs,
		SSDPTimeoutMs:       5000,
		SSDPPasses:          3,
		SSDPPassIntervalMs:  2000,
		TempFileMaxAgeHours: DefaultTempFileMaxAgeH,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.ListenHost = envString("SONOS_LISTEN_HOST", cfg.ListenHost)
	cfg.ListenPort = envInt("SONOS_LISTEN_PORT", cfg.ListenPort)
	cfg.APIAddr = envString("SONOS_API_ADDR", cfg.APIAddr)
	cfg.APISecret = envString("SONOS_API_SECRET", cfg.APISecret)
	cfg.SQLiteDBPath = envString("SONOS_DB_PATH", cfg.SQLiteDBPath)
	cfg.DataDir = envString("SONOS_DATA_DIR", cfg.DataDir)
	cfg.TempDir = envString("SONOS_TEMP_DIR", cfg.TempDir)
	cfg.SoapTimeoutMs = envInt("SONOS_SOAP_TIMEOUT_MS", cfg.SoapTimeoutMs)
	cfg.TempFileMaxAgeHours = envInt("SONOS_TEMP_FILE_MAX_AGE_HOURS", cfg.TempFileMaxAgeHours)
	cfg.TTSProgram = envString("SONOS_TTS_PROGRAM", cfg.TTSProgram)

	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		cfg.ListenPort = DefaultListenPort
	}
	if cfg.SoapTimeoutMs <= 0 {
		cfg.SoapTimeoutMs = DefaultSoapTimeoutMs
	}
	if cfg.TempFileMaxAgeHours < minTempFileMaxAgeH {
		cfg.TempFileMaxAgeHours = minTempFileMaxAgeH
	}
	if cfg.TempFileMaxAgeHours > maxTempFileMaxAgeH {
		cfg.TempFileMaxAgeHours = maxTempFileMaxAgeH
	}
	if len(strings.TrimSpace(cfg.APISecret)) > 0 && len(strings.TrimSpace(cfg.APISecret)) < 32 {
		return Config{}, fmt.Errorf("api_secret must be at least 32 characters when set")
	}

	return cfg, nil
}

// SoapTimeout returns the configured SOAP request timeout.
func (c Config) SoapTimeout() time.Duration {
	return time.Duration(c.SoapTimeoutMs) * time.Millisecond
}

// TempFileMaxAge returns the clamped temp-file retention duration.
func (c Config) TempFileMaxAge() time.Duration {
	return time.Duration(c.TempFileMaxAgeHours) * time.Hour
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}
