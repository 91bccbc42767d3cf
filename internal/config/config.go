// Package config 读取 poolctl 的配置文件
//
// 配置文件可以是 TOML 或 YAML，按扩展名选择格式。读取前会加载配置文件同目录下的 .env，
// 池的 url 和告警的 webhook_url 中的 ${VAR} 会被替换为环境变量的值。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format 是配置文件格式
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat 表示无法识别配置文件格式
var ErrUnknownFormat = errors.New("unknown config format")

// Config 是 poolctl 的完整配置
type Config struct {
	Manager ManagerConfig `mapstructure:"manager"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Pools   []PoolSpec    `mapstructure:"-"`
}

// ManagerConfig 是池管理器的配置
type ManagerConfig struct {
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// AlertsConfig 是告警的配置
type AlertsConfig struct {
	HistorySize    int           `mapstructure:"history_size"`
	Log            bool          `mapstructure:"log"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
}

// HTTPConfig 是状态接口的配置
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Manager: ManagerConfig{MonitorInterval: 30 * time.Second},
		Alerts: AlertsConfig{
			HistorySize:    100,
			Log:            true,
			WebhookTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{Listen: "127.0.0.1:8080"},
	}
}

// Load 读取配置文件，格式由扩展名决定
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, statErr := os.Stat(envPath); statErr == nil {
		// 已存在的环境变量优先
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, format)
}

// FormatFromPath 根据扩展名返回配置格式
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
}

// Parse 解析配置内容
func Parse(data []byte, format Format) (*Config, error) {
	raw := make(map[string]interface{})
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing toml config: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing yaml config: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	rawPools, err := poolEntries(raw["pools"])
	if err != nil {
		return nil, err
	}
	delete(raw, "pools")

	cfg := Default()
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.Alerts.WebhookURL = expandEnv(cfg.Alerts.WebhookURL)

	for i, entry := range rawPools {
		spec := DefaultPoolSpec()
		if err := decode(entry, &spec); err != nil {
			return nil, fmt.Errorf("pools[%d]: %w", i, err)
		}
		spec.URL = expandEnv(spec.URL)
		cfg.Pools = append(cfg.Pools, spec)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate 检查配置是否合法
func (c *Config) Validate() error {
	if c.Manager.MonitorInterval <= 0 {
		return errors.New("manager.monitor_interval must be positive")
	}
	if c.Alerts.HistorySize < 0 {
		return errors.New("alerts.history_size must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Pools))
	for i, p := range c.Pools {
		if p.Name == "" {
			return fmt.Errorf("pools[%d].name is required", i)
		}
		if p.URL == "" {
			return fmt.Errorf("pools[%d].url is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate pool name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func poolEntries(v interface{}) ([]map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}

	var items []interface{}
	switch t := v.(type) {
	case []interface{}:
		items = t
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		copy(out, t)
		return out, nil
	default:
		return nil, fmt.Errorf("pools must be a list, got %T", v)
	}

	out := make([]map[string]interface{}, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("pools[%d] must be a table, got %T", i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv 只替换 ${VAR} 形式的引用，未设置的变量替换为空串
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}
