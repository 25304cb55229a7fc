package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "polyalgo"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("clob.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob.chain_id", 137)
	v.SetDefault("clob.timeout", "10s")
	v.SetDefault("clob.factory_address", "0xaB45c5A4B0c941a2F231C04C3f49182e1A254052")
	v.SetDefault("clob.implementation_address", "0x44e2dafF8aE8eEe2ff9dFA5fBbF9b0736AAd7535")
	v.SetDefault("clob.metadata_ttl", "10m")

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.proxy_address", "")

	v.SetDefault("session.ttl", "1h")

	v.SetDefault("execution.slippage", 0.05)
	v.SetDefault("execution.retry.max_retries", 3)
	v.SetDefault("execution.retry.initial_delay", "1s")
	v.SetDefault("execution.retry.max_delay", "10s")
	v.SetDefault("execution.retry.multiplier", 2.0)

	v.SetDefault("database.path", "data/polyalgo.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.tick_interval", "10s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
