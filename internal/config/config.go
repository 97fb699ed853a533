package config

import (
	"os"
	"strconv"
	"time"

	commonconfig "lifeflow-request/common/config"
)

// Config 请求服务配置
type Config struct {
	ServiceName string
	LogLevel    string
	LogFormat   string

	Database commonconfig.DatabaseConfig
	Redis    commonconfig.RedisConfig

	// MQTT 事件旁路（推送给捐献者移动端），默认关闭
	MQTTEnabled bool
	MQTT        commonconfig.MQTTConfig

	// 协作方服务地址
	InventoryURL    string
	DonorURL        string
	GeolocationURL  string
	NotificationURL string
	AnalyticsURL    string

	// 截止时间清扫周期
	SweepInterval time.Duration
}

// Load 加载配置（默认值 + 环境变量覆盖）
func Load() *Config {
	cfg := &Config{
		ServiceName: "lifeflow-request",
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		Database: commonconfig.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "lifeflow",
			Password: "lifeflow",
			Database: "lifeflow_requests",
			SSLMode:  "disable",
			MaxConns: 20,
			MaxIdle:  5,
		},
		Redis: commonconfig.RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		MQTTEnabled: getEnvBool("MQTT_ENABLED", false),
		MQTT: commonconfig.MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "lifeflow-request",
			QoS:      1,
		},
		InventoryURL:    getEnv("INVENTORY_SERVICE_URL", "http://localhost:8081"),
		DonorURL:        getEnv("DONOR_SERVICE_URL", "http://localhost:8082"),
		GeolocationURL:  getEnv("GEOLOCATION_SERVICE_URL", "http://localhost:8083"),
		NotificationURL: getEnv("NOTIFICATION_SERVICE_URL", "http://localhost:8084"),
		AnalyticsURL:    getEnv("ANALYTICS_SERVICE_URL", "http://localhost:8085"),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
	}

	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
