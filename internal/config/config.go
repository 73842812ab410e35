package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	Index    IndexConfig
	Sync     SyncConfig
	JWT      JWTConfig
	LogLevel string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QueueKey string
}

type IndexConfig struct {
	// Path of the on-disk index. Empty means in-memory.
	Path string
}

type SyncConfig struct {
	Workers    int
	QueueSize  int
	BatchSize  int
	Rate       float64
	Burst      int
	MaxRetries uint64
}

type JWTConfig struct {
	Secret string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("MONGODB_DATABASE", "mirador")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("REDIS_QUEUE_KEY", "mirador:sync")
	viper.SetDefault("SYNC_WORKERS", 4)
	viper.SetDefault("SYNC_QUEUE_SIZE", 256)
	viper.SetDefault("SYNC_BATCH_SIZE", 500)
	viper.SetDefault("SYNC_RATE", 200)
	viper.SetDefault("SYNC_BURST", 50)
	viper.SetDefault("SYNC_MAX_RETRIES", 5)
	viper.SetDefault("LOG_LEVEL", "info")

	uri := viper.GetString("MONGODB_URI")
	if uri == "" {
		return nil, fmt.Errorf("environment variable MONGODB_URI is required")
	}

	cfg := &Config{
		MongoDB: MongoDBConfig{
			URI:      uri,
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			QueueKey: viper.GetString("REDIS_QUEUE_KEY"),
		},
		Index: IndexConfig{
			Path: viper.GetString("INDEX_PATH"),
		},
		Sync: SyncConfig{
			Workers:    viper.GetInt("SYNC_WORKERS"),
			QueueSize:  viper.GetInt("SYNC_QUEUE_SIZE"),
			BatchSize:  viper.GetInt("SYNC_BATCH_SIZE"),
			Rate:       viper.GetFloat64("SYNC_RATE"),
			Burst:      viper.GetInt("SYNC_BURST"),
			MaxRetries: viper.GetUint64("SYNC_MAX_RETRIES"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		LogLevel: viper.GetString("LOG_LEVEL"),
	}
	return cfg, nil
}
