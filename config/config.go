package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"feedwatch/internal/model"
)

const (
	StorageJSON   = "json"
	StorageSQLite = "sqlite"

	// MinDeliveryPace 下游限流要求的最小投递间隔
	MinDeliveryPace = time.Second
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Engine   EngineConfig   `yaml:"engine"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // json, sqlite
	Path   string `yaml:"path"`
}

type EngineConfig struct {
	DefaultInterval        time.Duration `yaml:"default_interval"`
	MinInterval            time.Duration `yaml:"min_interval"`
	MaxInterval            time.Duration `yaml:"max_interval"`
	MaxFeedsPerDestination int           `yaml:"max_feeds_per_destination"`
	MaxItemsPerCheck       int           `yaml:"max_items_per_check"` // 单次检查最多投递条数
	DeliveryPace           time.Duration `yaml:"delivery_pace"`
	ShutdownGrace          time.Duration `yaml:"shutdown_grace"`
}

type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type DeliveryConfig struct {
	WebhookURL string        `yaml:"webhook_url"` // 为空时只写日志
	MaxRetries uint64        `yaml:"max_retries"`
	MaxElapsed time.Duration `yaml:"max_elapsed"` // 单条消息重试的总时长上限
	Timeout    time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "3000",
			Mode: "release",
		},
		Storage: StorageConfig{
			Driver: StorageJSON,
			Path:   "data/feeds.json",
		},
		Engine: EngineConfig{
			DefaultInterval:        model.DefaultInterval,
			MinInterval:            model.MinInterval,
			MaxInterval:            model.MaxInterval,
			MaxFeedsPerDestination: 10,
			MaxItemsPerCheck:       5,
			DeliveryPace:           MinDeliveryPace,
			ShutdownGrace:          10 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "feedwatch/1.0",
			MaxBodyBytes: 10 << 20,
		},
		Delivery: DeliveryConfig{
			MaxRetries: 3,
			MaxElapsed: time.Minute,
			Timeout:    15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	cfg := Default()

	// 如果配置文件存在,读取配置
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	} else {
		log.Infof("Config file %s not found, using defaults", configPath)
	}

	cfg.applyEnv()

	if cfg.Engine.DeliveryPace < MinDeliveryPace {
		cfg.Engine.DeliveryPace = MinDeliveryPace
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖配置
func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		c.Server.Mode = mode
	}

	if driver := os.Getenv("FEEDWATCH_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}

	if path := os.Getenv("FEEDWATCH_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}

	if hook := os.Getenv("FEEDWATCH_WEBHOOK_URL"); hook != "" {
		c.Delivery.WebhookURL = hook
	}

	if level := os.Getenv("FEEDWATCH_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageJSON, StorageSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is empty")
	}

	e := c.Engine
	if e.MinInterval <= 0 || e.MaxInterval < e.MinInterval {
		return fmt.Errorf("invalid interval bounds [%s, %s]", e.MinInterval, e.MaxInterval)
	}
	if e.DefaultInterval < e.MinInterval || e.DefaultInterval > e.MaxInterval {
		return fmt.Errorf("default interval %s outside [%s, %s]", e.DefaultInterval, e.MinInterval, e.MaxInterval)
	}
	if e.MaxFeedsPerDestination <= 0 {
		return fmt.Errorf("max_feeds_per_destination must be positive")
	}
	if e.MaxItemsPerCheck <= 0 {
		return fmt.Errorf("max_items_per_check must be positive")
	}
	if e.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative")
	}
	if c.Delivery.MaxElapsed < 0 {
		return fmt.Errorf("delivery max_elapsed must not be negative")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	return nil
}

// GetServerAddress 获取服务器监听地址
func (c *Config) GetServerAddress() string {
	// 如果端口是纯数字,加上冒号前缀
	if _, err := strconv.Atoi(c.Server.Port); err == nil {
		return ":" + c.Server.Port
	}
	return c.Server.Port
}

// SetupLogging 按配置设置 logrus 级别和格式
func (c *Config) SetupLogging() error {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	log.SetLevel(level)

	switch c.Log.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
