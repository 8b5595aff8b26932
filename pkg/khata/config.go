package khata

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/khata/pkg/kv"
	"github.com/harunnryd/khata/pkg/turn"
	"github.com/harunnryd/khata/pkg/vad"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	BusinessID    int64               `mapstructure:"business_id"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Sessions      SessionsConfig      `mapstructure:"sessions"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transport     TransportConfig     `mapstructure:"transport"`
	VAD           VADConfig           `mapstructure:"vad"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Decision      DecisionConfig      `mapstructure:"decision"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SessionsConfig struct {
	Backend      string         `mapstructure:"backend"`
	TTLSeconds   int            `mapstructure:"ttl_seconds"`
	GraceSeconds int            `mapstructure:"grace_seconds"`
	Redis        kv.RedisConfig `mapstructure:"redis"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VADConfig struct {
	SilenceThreshold  float64 `mapstructure:"silence_threshold"`
	SilenceDurationMS int     `mapstructure:"silence_duration_ms"`
	ChunkDurationMS   int     `mapstructure:"chunk_duration_ms"`
	SampleRate        int     `mapstructure:"sample_rate"`
	EnergyWindow      int     `mapstructure:"energy_window"`
}

type TurnConfig struct {
	BargeInThresholdMS int    `mapstructure:"barge_in_threshold_ms"`
	Strategy           string `mapstructure:"strategy"`
}

type DecisionConfig struct {
	AutoExecuteLimit float64 `mapstructure:"auto_execute_limit"`
}

type NotifyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	OwnerPhone string `mapstructure:"owner_phone"`
}

type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	TimelineDir string  `mapstructure:"timeline_dir"`
	AsyncBuffer int     `mapstructure:"async_buffer"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("business_id", 1)
	v.SetDefault("database.dsn", "khata.db")
	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("sessions.ttl_seconds", 300)
	v.SetDefault("sessions.grace_seconds", 30)
	v.SetDefault("vad.silence_threshold", 0.02)
	v.SetDefault("vad.silence_duration_ms", 1500)
	v.SetDefault("vad.chunk_duration_ms", 100)
	v.SetDefault("vad.sample_rate", 16000)
	v.SetDefault("vad.energy_window", 5)
	v.SetDefault("turn.barge_in_threshold_ms", 500)
	v.SetDefault("turn.strategy", "aggressive")
	v.SetDefault("decision.auto_execute_limit", 10000)
	v.SetDefault("observability.async_buffer", 2048)
	v.SetDefault("observability.sample_rate", 1.0)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BusinessID <= 0 {
		return fmt.Errorf("business_id is required")
	}
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Sessions.Backend)) {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("sessions.backend must be memory or redis")
	}
	return nil
}

// VADSettings converts the millisecond config into detector units.
func (c Config) VADSettings() vad.Config {
	return vad.Config{
		SilenceThreshold: c.VAD.SilenceThreshold,
		SilenceDuration:  float64(c.VAD.SilenceDurationMS) / 1000,
		ChunkDuration:    float64(c.VAD.ChunkDurationMS) / 1000,
		SampleRate:       c.VAD.SampleRate,
		EnergyWindow:     c.VAD.EnergyWindow,
	}
}

func (c Config) BargeInThreshold() time.Duration {
	return time.Duration(c.Turn.BargeInThresholdMS) * time.Millisecond
}

func (c Config) TurnStrategy() turn.Strategy {
	if strings.EqualFold(strings.TrimSpace(c.Turn.Strategy), "polite") {
		return turn.PoliteStrategy{}
	}
	return turn.AggressiveStrategy{}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
