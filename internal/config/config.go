package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrValidation marks a config that must not be used to start the controller.
var ErrValidation = errors.New("config validation failed")

type Config struct {
	IOModule   IOModuleConfig
	StatusPort int
	Env        EnvConfig
}

// IOModuleConfig describes the Modbus TCP device driving the signal light.
type IOModuleConfig struct {
	IP               string        `mapstructure:"io_module_ip"`
	Port             int           `mapstructure:"io_module_port"`
	UnitID           uint8         `mapstructure:"unit_id"`
	RedBitRegister   uint16        `mapstructure:"red_bit_register"`
	GreenBitRegister uint16        `mapstructure:"green_bit_register"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RetryOnEmpty     int           `mapstructure:"retry_on_empty"`
	ConnectRetries   int           `mapstructure:"connect_retries"`
	ConnectBackoff   time.Duration `mapstructure:"connect_backoff"`
	VerifyWrites     bool          `mapstructure:"verify_writes"`
}

// EnvConfig is the deployment-level part of the configuration taken from the environment.
type EnvConfig struct {
	DevMode   bool
	AppName   string
	LogLevel  string
	SubTopics []string
	// TopicConfigs maps a topic name to the value of its "<topic>_cfg" variable.
	TopicConfigs map[string]string
}

func (c IOModuleConfig) Address() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Load reads the config file at path (JSON or YAML by extension), validates it
// against the embedded schema and merges the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data, filepath.Ext(path))
}

// Parse is Load for an in-memory document. ext selects the decoder (".yaml", ".yml", else JSON).
func Parse(data []byte, ext string) (*Config, error) {
	jsonData, err := toJSON(data, ext)
	if err != nil {
		return nil, err
	}

	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(jsonData); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")

	// Defaults setzen
	v.SetDefault("unit_id", 0)
	v.SetDefault("connect_timeout", "1s")
	v.SetDefault("retry_on_empty", 3)
	v.SetDefault("connect_retries", 0)
	v.SetDefault("connect_backoff", "500ms")
	v.SetDefault("verify_writes", false)
	v.SetDefault("status_port", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)

	bindEnv(v, "dev_mode", "DEV_MODE")
	bindEnv(v, "app_name", "AppName")
	bindEnv(v, "sub_topics", "SubTopics")
	bindEnv(v, "log_level", "LOG_LEVEL", "PY_LOG_LEVEL")

	if err := v.ReadConfig(bytes.NewReader(jsonData)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg.IOModule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.StatusPort = v.GetInt("status_port")

	if cfg.IOModule.RedBitRegister == cfg.IOModule.GreenBitRegister {
		return nil, fmt.Errorf("%w: red_bit_register and green_bit_register must differ", ErrValidation)
	}

	devMode, err := cast.ToBoolE(v.Get("dev_mode"))
	if err != nil {
		return nil, fmt.Errorf("%w: DEV_MODE: %v", ErrValidation, err)
	}

	cfg.Env = EnvConfig{
		DevMode:      devMode,
		AppName:      v.GetString("app_name"),
		LogLevel:     v.GetString("log_level"),
		SubTopics:    splitTopics(v.GetString("sub_topics")),
		TopicConfigs: make(map[string]string),
	}

	for _, sub := range cfg.Env.SubTopics {
		topic := TopicName(sub)
		key := "topic_cfg." + strings.ToLower(topic)
		bindEnv(v, key, topic+"_cfg")
		if value := v.GetString(key); value != "" {
			cfg.Env.TopicConfigs[topic] = value
		}
	}

	return &cfg, nil
}

// TopicName returns the topic part of a "<publisher>/<topic>" subscription entry.
func TopicName(sub string) string {
	if i := strings.LastIndex(sub, "/"); i >= 0 {
		return strings.TrimSpace(sub[i+1:])
	}
	return strings.TrimSpace(sub)
}

func splitTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

func bindEnv(v *viper.Viper, key string, envNames ...string) {
	// BindEnv only fails without a key.
	_ = v.BindEnv(append([]string{key}, envNames...)...)
}

func toJSON(data []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: invalid YAML: %v", ErrValidation, err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return out, nil
	default:
		return data, nil
	}
}
