package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`

	Worker WorkerConfig `mapstructure:"worker"`
	Rtc    RtcConfig    `mapstructure:"rtc"`
}

// WorkerConfig controls the media engine subprocess.
type WorkerConfig struct {
	Bin      string `mapstructure:"bin"`
	LogLevel string `mapstructure:"log_level"`
}

// RtcConfig controls transport listening and bitrate policy.
type RtcConfig struct {
	ListenIP                        string `mapstructure:"listen_ip"`
	AnnouncedIP                     string `mapstructure:"announced_ip"`
	MinPort                         uint16 `mapstructure:"min_port"`
	MaxPort                         uint16 `mapstructure:"max_port"`
	MaxIncomingBitrate              uint32 `mapstructure:"max_incoming_bitrate"`
	InitialAvailableOutgoingBitrate uint32 `mapstructure:"initial_available_outgoing_bitrate"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("worker.bin", "mediasoup-worker")
	v.SetDefault("worker.log_level", "warn")
	v.SetDefault("rtc.listen_ip", "0.0.0.0")
	v.SetDefault("rtc.announced_ip", "127.0.0.1")
	v.SetDefault("rtc.min_port", 40000)
	v.SetDefault("rtc.max_port", 49999)
	v.SetDefault("rtc.max_incoming_bitrate", 1500000)
	v.SetDefault("rtc.initial_available_outgoing_bitrate", 1000000)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | RTC: %s (%d-%d)\n",
		cfg.Mode, cfg.Port, cfg.Rtc.ListenIP, cfg.Rtc.MinPort, cfg.Rtc.MaxPort)
	return &cfg, nil
}
