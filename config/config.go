// Package config 提供统一的配置加载与管理能力：TOML 文件、APP_ 前缀环境变量覆盖、结构校验与热更新。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wyfcoding/bspricer/logging"
)

// Config 全局顶级配置结构.
type Config struct {
	Version   string          `mapstructure:"version"   toml:"version"   json:"version"`
	Server    ServerConfig    `mapstructure:"server"    toml:"server"    json:"server"`
	Log       LogConfig       `mapstructure:"log"       toml:"log"       json:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   toml:"metrics"   json:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"   toml:"tracing"   json:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" toml:"ratelimit" json:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"      toml:"cors"      json:"cors"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake" toml:"snowflake" json:"snowflake"`
	Pricing   PricingConfig   `mapstructure:"pricing"   toml:"pricing"   json:"pricing"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"   toml:"heatmap"   json:"heatmap"`
}

// ServerConfig 定义服务器运行时的基础网络与环境参数.
type ServerConfig struct {
	Name        string     `mapstructure:"name"        toml:"name"        json:"name"        validate:"required"`
	Environment string     `mapstructure:"environment" toml:"environment" json:"environment" validate:"oneof=dev test prod"`
	HTTP        HTTPConfig `mapstructure:"http"        toml:"http"        json:"http"`
	WS          WSConfig   `mapstructure:"ws"          toml:"ws"          json:"ws"`
}

// HTTPConfig HTTP 监听与超时参数.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"                toml:"addr"                json:"addr"`
	Port              int           `mapstructure:"port"                toml:"port"                json:"port"                validate:"required,min=1,max=65535"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        toml:"read_timeout"        json:"read_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       toml:"write_timeout"       json:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        toml:"idle_timeout"        json:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"    toml:"shutdown_timeout"    json:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"      toml:"max_body_bytes"      json:"max_body_bytes"      validate:"min=0"` // 0 表示不限制
}

// WSConfig 会话推送 websocket 参数.
type WSConfig struct {
	Enabled        bool     `mapstructure:"enabled"         toml:"enabled"         json:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"       json:"level"  validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format"      toml:"format"      json:"format" validate:"omitempty,oneof=json text"`
	Output     string `mapstructure:"output"      toml:"output"      json:"output" validate:"omitempty,oneof=stdout stderr file both"`
	File       string `mapstructure:"file"        toml:"file"        json:"file"`
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"    json:"max_size"`    // 单个文件最大大小 (MB)。
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" json:"max_backups"` // 最大备份数。
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"     json:"max_age"`     // 最大保留天数。
	Compress   bool   `mapstructure:"compress"    toml:"compress"    json:"compress"`
	// SlowThreshold HTTP 慢请求阈值，0 表示不告警。
	SlowThreshold time.Duration `mapstructure:"slow_threshold" toml:"slow_threshold" json:"slow_threshold"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Path    string `mapstructure:"path"    toml:"path"    json:"path"`
	Addr    string `mapstructure:"addr"    toml:"addr"    json:"addr"` // 非空时在独立端口暴露，否则挂在 HTTP 服务的 Path 上
	Enabled bool   `mapstructure:"enabled" toml:"enabled" json:"enabled"`
}

// TracingConfig 分布式链路追踪 (OpenTelemetry) 配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"  json:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" json:"otlp_endpoint"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" json:"sampler_ratio" validate:"min=0,max=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"       json:"enabled"`
}

// RateLimitConfig 定义令牌桶或滑动窗口限流参数.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled" toml:"enabled" json:"enabled"`
	Backend string        `mapstructure:"backend" toml:"backend" json:"backend" validate:"oneof=local redis"`
	Rate    int           `mapstructure:"rate"    toml:"rate"    json:"rate"    validate:"min=1"`
	Burst   int           `mapstructure:"burst"   toml:"burst"   json:"burst"   validate:"min=1"`
	Window  time.Duration `mapstructure:"window"  toml:"window"  json:"window"`
	Redis   RedisConfig   `mapstructure:"redis"   toml:"redis"   json:"redis"`
}

// RedisConfig 限流后端 Redis 连接参数.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     toml:"addr"     json:"addr"`
	Password string `mapstructure:"password" toml:"password" json:"password"`
	DB       int    `mapstructure:"db"       toml:"db"       json:"db"`
	Prefix   string `mapstructure:"prefix"   toml:"prefix"   json:"prefix"`
}

// CORSConfig 定义跨域配置。
type CORSConfig struct {
	Enabled      bool     `mapstructure:"enabled"       toml:"enabled"       json:"enabled"`
	AllowOrigins []string `mapstructure:"allow_origins" toml:"allow_origins" json:"allow_origins"`
}

// SnowflakeConfig 请求 ID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time" json:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"       json:"type"       validate:"omitempty,oneof=snowflake sonyflake"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id" json:"machine_id" validate:"min=0,max=1023"`
}

// PricingConfig 默认定价参数与报价精度.
type PricingConfig struct {
	Spot        float64 `mapstructure:"spot"         toml:"spot"         json:"spot"`
	Strike      float64 `mapstructure:"strike"       toml:"strike"       json:"strike"`
	Maturity    float64 `mapstructure:"maturity"     toml:"maturity"     json:"maturity"`
	Volatility  float64 `mapstructure:"volatility"   toml:"volatility"   json:"volatility"`
	Rate        float64 `mapstructure:"rate"         toml:"rate"         json:"rate"`
	PricePlaces int32   `mapstructure:"price_places" toml:"price_places" json:"price_places" validate:"min=0,max=16"`
	GreekPlaces int32   `mapstructure:"greek_places" toml:"greek_places" json:"greek_places" validate:"min=0,max=16"`
}

// HeatmapConfig 热力图网格参数.
type HeatmapConfig struct {
	Size    int          `mapstructure:"size"     toml:"size"     json:"size"     validate:"gtefield=MinSize,ltefield=MaxSize"`
	MinSize int          `mapstructure:"min_size" toml:"min_size" json:"min_size" validate:"min=1"`
	MaxSize int          `mapstructure:"max_size" toml:"max_size" json:"max_size" validate:"gtefield=MinSize"`
	Workers int          `mapstructure:"workers"  toml:"workers"  json:"workers"  validate:"min=0"`
	Bounds  BoundsConfig `mapstructure:"bounds"   toml:"bounds"   json:"bounds"`
}

// BoundsConfig 扫描边界表达式，变量为 S、K、T、v、r.
type BoundsConfig struct {
	SpotMin string `mapstructure:"spot_min" toml:"spot_min" json:"spot_min" validate:"required"`
	SpotMax string `mapstructure:"spot_max" toml:"spot_max" json:"spot_max" validate:"required"`
	VolMin  string `mapstructure:"vol_min"  toml:"vol_min"  json:"vol_min"  validate:"required"`
	VolMax  string `mapstructure:"vol_max"  toml:"vol_max"  json:"vol_max"  validate:"required"`
}

// Default 返回内置默认配置，文件与环境变量在此基础上覆盖.
func Default() Config {
	return Config{
		Version: "dev",
		Server: ServerConfig{
			Name:        "bspricer",
			Environment: "dev",
			HTTP: HTTPConfig{
				Port:              8080,
				ReadTimeout:       10 * time.Second,
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
				ShutdownTimeout:   5 * time.Second,
				MaxBodyBytes:      1 << 20,
			},
			WS: WSConfig{Enabled: true},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
		},
		Metrics: MetricsConfig{Path: "/metrics", Enabled: true},
		Tracing: TracingConfig{ServiceName: "bspricer", SamplerRatio: 1},
		RateLimit: RateLimitConfig{
			Backend: "local",
			Rate:    100,
			Burst:   200,
			Window:  time.Second,
			Redis:   RedisConfig{Addr: "127.0.0.1:6379", Prefix: "bspricer:ratelimit:"},
		},
		Snowflake: SnowflakeConfig{StartTime: "2024-01-01", Type: "snowflake", MachineID: 1},
		Pricing: PricingConfig{
			Spot:        100,
			Strike:      100,
			Maturity:    1,
			Volatility:  0.2,
			Rate:        0.05,
			PricePlaces: 4,
			GreekPlaces: 6,
		},
		Heatmap: HeatmapConfig{
			Size:    10,
			MinSize: 5,
			MaxSize: 30,
			Workers: 1,
			Bounds: BoundsConfig{
				SpotMin: "S * 0.8",
				SpotMax: "S * 1.2",
				VolMin:  "v * 0.5",
				VolMax:  "v * 1.5",
			},
		},
	}
}

var (
	mu       sync.RWMutex
	onReload []func(*Config)
	validate = validator.New()
)

// RegisterReloadHook 注册配置热更新回调，回调收到的是校验通过的新配置副本。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	mu.Lock()
	onReload = append(onReload, hook)
	mu.Unlock()
}

// Validate 校验配置结构.
func Validate(conf *Config) error {
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, Default())
	return v
}

// bindEnvKeys 让 AutomaticEnv 能覆盖文件中缺省的键，Unmarshal 只会查询已知的键。
func bindEnvKeys(v *viper.Viper, def Config) {
	data, err := json.Marshal(def)
	if err != nil {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			_ = v.BindEnv(key)
		}
	}
	walk("", m)
}

func read(v *viper.Viper, conf *Config) error {
	next := Default()
	if err := v.Unmarshal(&next); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}
	if err := Validate(&next); err != nil {
		return err
	}
	*conf = next
	return nil
}

// Load 读取配置文件并开启热更新。path 为空时只使用默认值与环境变量。
func Load(path string, conf *Config) error {
	if path == "" {
		v := viper.New()
		v.SetEnvPrefix("APP")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
		bindEnvKeys(v, Default())
		return read(v, conf)
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}
	if err := read(v, conf); err != nil {
		return err
	}

	v.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		var next Config
		if err := read(v, &next); err != nil {
			slog.Error("reload config failed", "error", err)
			return
		}
		logging.SetLevel(next.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		mu.RLock()
		hooks := append([]func(*Config){}, onReload...)
		mu.RUnlock()
		for _, hook := range hooks {
			cp := next
			hook(&cp)
		}
	})
	v.WatchConfig()

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	masked, err := MaskedJSON(conf)
	if err != nil {
		slog.Error("failed to mask config for printing", "error", err)
		return
	}
	slog.Info("current effective configuration", "config", masked)
}

// MaskedJSON 返回敏感字段被替换后的 JSON 文本.
func MaskedJSON(conf any) (string, error) {
	data, err := json.Marshal(conf)
	if err != nil {
		return "", err
	}
	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		return "", err
	}
	mask(configMap)
	out, err := json.MarshalIndent(configMap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "token", "key"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}
		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}
