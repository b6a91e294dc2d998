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
	envPrefix         = "astro"
)

// Load 读取配置文件并结合环境变量返回 Config。
// 私钥等敏感项推荐通过 ASTRO_VENUE_PRIVATE_KEY 等环境变量注入。
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

	v.SetDefault("executor.backend", BackendSimulated)
	v.SetDefault("executor.assets", []string{"BTC"})
	v.SetDefault("executor.initial_balance", 10000.0)
	v.SetDefault("executor.slippage", 0.001)
	v.SetDefault("executor.default_price", 50000.0)

	v.SetDefault("venue.network", NetworkTestnet)
	v.SetDefault("venue.wallet_address", "")
	v.SetDefault("venue.private_key", "")
	v.SetDefault("venue.quote_coin", "USDC")
	v.SetDefault("venue.retry.max_attempts", 5)
	v.SetDefault("venue.retry.min_delay", "500ms")
	v.SetDefault("venue.retry.max_delay", "5s")

	v.SetDefault("server.port", 8085)

	v.SetDefault("database.path", "data/astro_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("reporting.snapshot_interval", "5m")
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
