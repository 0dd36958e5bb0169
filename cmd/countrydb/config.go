package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/countrydb/codec"
	"github.com/hupe1980/countrydb/table"
)

// cliConfig is the YAML configuration file. ${VAR} references are
// expanded from the environment before parsing.
type cliConfig struct {
	Dir         string       `yaml:"dir"`
	Workers     int          `yaml:"workers"`
	QueueSize   int          `yaml:"queue_size"`
	Codec       string       `yaml:"codec"`
	Compression string       `yaml:"compression"`
	BlockSize   int          `yaml:"block_size"`
	CacheBytes  int64        `yaml:"cache_bytes"`
	Strict      bool         `yaml:"strict"`
	LogLevel    string       `yaml:"log_level"`
	LogFormat   string       `yaml:"log_format"`
	Source      sourceConfig `yaml:"source"`
	Limits      limitsConfig `yaml:"limits"`
}

// sourceConfig selects where ingest reads the batch from.
type sourceConfig struct {
	// Kind is one of file, s3 or minio.
	Kind string `yaml:"kind"`
	// Path is a local file for kind file.
	Path string `yaml:"path"`
	// Bucket and Key name a single object; Prefix concatenates every
	// object below it instead.
	Bucket string      `yaml:"bucket"`
	Key    string      `yaml:"key"`
	Prefix string      `yaml:"prefix"`
	S3     s3Config    `yaml:"s3"`
	MinIO  minioConfig `yaml:"minio"`
}

type s3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type minioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

type limitsConfig struct {
	MemoryBytes        int64   `yaml:"memory_bytes"`
	MaxInFlightQueries int64   `yaml:"max_in_flight_queries"`
	QueriesPerSecond   float64 `yaml:"queries_per_second"`
	IOBytesPerSec      int64   `yaml:"io_bytes_per_sec"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		Dir:         "./data",
		Workers:     4,
		Codec:       codec.Default.Name(),
		Compression: table.CompressionZSTD.String(),
		BlockSize:   table.DefaultBlockSize,
		CacheBytes:  8 << 20,
		LogLevel:    "info",
		LogFormat:   "text",
		Source:      sourceConfig{Kind: "file"},
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the --config flag
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c cliConfig) validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: dir is required")
	}
	if _, ok := codec.ByName(c.Codec); !ok {
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	if _, err := table.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	switch c.Source.Kind {
	case "file", "s3", "minio":
	default:
		return fmt.Errorf("config: unknown source kind %q", c.Source.Kind)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return l, nil
}
