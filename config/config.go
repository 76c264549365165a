// Package config 加载会话服务器配置：默认值 -> 可选 YAML 文件 -> 环境变量。
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultMaxPlayers 同时在场玩家上限（构建期常量，可被配置覆盖）
const DefaultMaxPlayers = 20

const (
	PolicyJitter  = "jitter"
	PolicyScatter = "scatter"
)

// Config 服务器配置；环境变量不带前缀（PORT、NODE_ENV 等）
type Config struct {
	Host       string        `yaml:"host" envconfig:"LISTEN_HOST"`
	Port       int           `yaml:"port" envconfig:"PORT"`
	Env        string        `yaml:"env" envconfig:"NODE_ENV"`
	MaxPlayers int           `yaml:"max_players" envconfig:"MAX_PLAYERS"`
	Static     StaticConfig  `yaml:"static" envconfig:"STATIC"`
	Spawn      SpawnConfig   `yaml:"spawn" envconfig:"SPAWN"`
	Logging    LoggingConfig `yaml:"log" envconfig:"LOG"`
	Admin      AdminConfig   `yaml:"admin" envconfig:"ADMIN"`
}

// StaticConfig 静态资源根目录（生产 / 开发）
type StaticConfig struct {
	DistDir string `yaml:"dist_dir" envconfig:"DIST_DIR"`
	DevDir  string `yaml:"dev_dir" envconfig:"DEV_DIR"`
}

// SpawnConfig 出生点持久化与落点策略
type SpawnConfig struct {
	File   string `yaml:"file" envconfig:"FILE"`
	Policy string `yaml:"policy" envconfig:"POLICY"` // jitter, scatter
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // console, json
	File   string `yaml:"file" envconfig:"FILE"`     // 为空则输出到 stderr
}

type AdminConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

// Load 读取配置；文件不存在不算错误
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Host:       "0.0.0.0",
		Port:       3000,
		MaxPlayers: DefaultMaxPlayers,
		Static: StaticConfig{
			DistDir: "dist",
			DevDir:  "public",
		},
		Spawn: SpawnConfig{
			File:   "spawn_config.json",
			Policy: PolicyJitter,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Admin: AdminConfig{Enabled: true},
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.MaxPlayers < 1 {
		return fmt.Errorf("max_players must be at least 1, got %d", c.MaxPlayers)
	}
	switch c.Spawn.Policy {
	case PolicyJitter, PolicyScatter:
	default:
		return fmt.Errorf("unknown spawn policy %q", c.Spawn.Policy)
	}
	if c.Spawn.File == "" {
		return errors.New("spawn file path is required")
	}
	return nil
}

// Address 监听地址
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Production NODE_ENV=production 时使用构建产物目录
func (c *Config) Production() bool {
	return c.Env == "production"
}

// StaticRoot 当前环境下的静态资源根目录
func (c *Config) StaticRoot() string {
	if c.Production() {
		return c.Static.DistDir
	}
	return c.Static.DevDir
}
