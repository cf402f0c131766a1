package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mezonai/mmn-aa/logx"
	"gopkg.in/ini.v1"
)

type NodeSection struct {
	ID             string `ini:"id"`
	RPCAddr        string `ini:"rpc_addr"`
	MetricsEnabled bool   `ini:"metrics_enabled"`
}

type DBSection struct {
	Backend   string `ini:"backend"`
	Path      string `ini:"path"`
	RedisAddr string `ini:"redis_addr"`
	RedisDB   int    `ini:"redis_db"`
}

type BootloaderSection struct {
	InflightTTLMs   int `ini:"inflight_ttl_ms"`
	SweepIntervalMs int `ini:"sweep_interval_ms"`
}

type TelemetrySection struct {
	OtelEndpoint string `ini:"otel_endpoint"`
	ServiceName  string `ini:"service_name"`
}

type KafkaSection struct {
	Brokers string `ini:"brokers"`
	Topic   string `ini:"topic"`
}

type RateLimitSection struct {
	Enabled    bool `ini:"enabled"`
	PerIP      int  `ini:"per_ip"`
	PerAccount int  `ini:"per_account"`
	WindowMs   int  `ini:"window_ms"`
}

// NodeConfig holds the configuration from node.ini
type NodeConfig struct {
	Node       NodeSection
	DB         DBSection
	Bootloader BootloaderSection
	Telemetry  TelemetrySection
	Kafka      KafkaSection
	RateLimit  RateLimitSection
}

// DefaultNodeConfig is used for every key node.ini leaves out
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Node:       NodeSection{ID: "aanode-1", RPCAddr: ":8545", MetricsEnabled: true},
		DB:         DBSection{Backend: "leveldb", Path: "data"},
		Bootloader: BootloaderSection{InflightTTLMs: 60_000, SweepIntervalMs: 10_000},
		Telemetry:  TelemetrySection{ServiceName: "mmn-aa"},
		Kafka:      KafkaSection{Topic: "aa-events"},
		RateLimit:  RateLimitSection{PerIP: 20, PerAccount: 10, WindowMs: 1000},
	}
}

// LoadNodeConfig reads node.ini and applies environment overrides
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	sections := map[string]interface{}{
		"node":       &cfg.Node,
		"db":         &cfg.DB,
		"bootloader": &cfg.Bootloader,
		"telemetry":  &cfg.Telemetry,
		"kafka":      &cfg.Kafka,
		"ratelimit":  &cfg.RateLimit,
	}
	for name, target := range sections {
		if err := file.Section(name).MapTo(target); err != nil {
			return nil, fmt.Errorf("section [%s]: %w", name, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded node config %s: rpc=%s db=%s kafka=%t tracing=%t",
		path, cfg.Node.RPCAddr, cfg.DB.Backend, len(cfg.KafkaBrokers()) > 0, cfg.Telemetry.OtelEndpoint != ""))
	return cfg, nil
}

func (c *NodeConfig) applyEnv() {
	if v, ok := os.LookupEnv("AA_RPC_ADDR"); ok && v != "" {
		c.Node.RPCAddr = v
	}
	if v, ok := os.LookupEnv("AA_DB_PATH"); ok && v != "" {
		c.DB.Path = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok && v != "" {
		c.DB.RedisAddr = v
	}
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		c.Telemetry.OtelEndpoint = v
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = v
	}
}

func (c *NodeConfig) Validate() error {
	switch c.DB.Backend {
	case "leveldb", "memory", "redis":
	default:
		return fmt.Errorf("unsupported db backend %q", c.DB.Backend)
	}
	if c.DB.Backend == "redis" && c.DB.RedisAddr == "" {
		return fmt.Errorf("db backend redis needs redis_addr")
	}
	if c.Node.RPCAddr == "" {
		return fmt.Errorf("node rpc_addr is required")
	}
	if c.Bootloader.InflightTTLMs < 0 || c.Bootloader.SweepIntervalMs < 0 {
		return fmt.Errorf("bootloader durations must not be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("ratelimit window_ms must be positive")
	}
	return nil
}

func (c *NodeConfig) InflightTTL() time.Duration {
	return time.Duration(c.Bootloader.InflightTTLMs) * time.Millisecond
}

func (c *NodeConfig) SweepInterval() time.Duration {
	return time.Duration(c.Bootloader.SweepIntervalMs) * time.Millisecond
}

func (c *NodeConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

func (c *NodeConfig) KafkaBrokers() []string {
	var out []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
