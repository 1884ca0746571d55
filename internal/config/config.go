package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	ChargePoint   ChargePointConfig   `mapstructure:"charge_point"`
	CentralSystem CentralSystemConfig `mapstructure:"central_system"`
	Scenario      ScenarioConfig      `mapstructure:"scenario"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ChargePointConfig 充电桩配置
type ChargePointConfig struct {
	ID             string `mapstructure:"id"`
	Vendor         string `mapstructure:"vendor"`
	Model          string `mapstructure:"model"`
	ConnectorCount int    `mapstructure:"connector_count"`
	InitialMeterWh int    `mapstructure:"initial_meter_wh"`
	DefaultIdTag   string `mapstructure:"default_id_tag"`
}

// CentralSystemConfig 中央系统连接配置
type CentralSystemConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

// ScenarioConfig 场景配置
type ScenarioConfig struct {
	Store     string `mapstructure:"store"`     // 场景存储类型: memory, file, redis
	Directory string `mapstructure:"directory"` // 文件存储时的场景目录
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Async  bool   `mapstructure:"async"`
}

// MetricsConfig 监控指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load 加载配置文件及环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("simulator")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("SIMULATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时使用默认值，显式指定的文件除外
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("charge_point.id", "SIM001")
	v.SetDefault("charge_point.vendor", "ChargingPlatform")
	v.SetDefault("charge_point.model", "Simulator")
	v.SetDefault("charge_point.connector_count", 2)
	v.SetDefault("charge_point.initial_meter_wh", 0)
	v.SetDefault("charge_point.default_id_tag", "SIMTAG001")

	v.SetDefault("central_system.url", "ws://localhost:8080/ocpp")
	v.SetDefault("central_system.connect_timeout", 10*time.Second)
	v.SetDefault("central_system.call_timeout", 30*time.Second)
	v.SetDefault("central_system.reconnect_delay", 5*time.Second)
	v.SetDefault("central_system.ping_interval", 30*time.Second)

	v.SetDefault("scenario.store", "memory")
	v.SetDefault("scenario.directory", "./scenarios")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "simulator-events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.async", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
}

// GetMetricsAddr 获取监控地址
func (c *Config) GetMetricsAddr() string {
	return c.Metrics.Addr
}
