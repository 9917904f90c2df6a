package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	ChannelBase            string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxMB            int
	SSEKeepAlive           time.Duration
	SyncBootstrapTimeout   time.Duration
	QuietHoursEnabled      bool
	QuietHoursStart        int
	QuietHoursEnd          int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("KARYA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Karya Design API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "karya")
	v.SetDefault("cloudinary.folder", "karya/attachments")
	v.SetDefault("upload.max_mb", 10)
	v.SetDefault("sse.keepalive", "30s")
	v.SetDefault("sync.bootstrap_timeout", "5s")
	v.SetDefault("quiet_hours.enabled", false)
	v.SetDefault("quiet_hours.start", 22)
	v.SetDefault("quiet_hours.end", 7)

	keepAlive, err := time.ParseDuration(v.GetString("sse.keepalive"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid sse keepalive: %w", err)
	}

	bootstrapTimeout, err := time.ParseDuration(v.GetString("sync.bootstrap_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid sync bootstrap timeout: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		ChannelBase:            v.GetString("channel.base"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxMB:            v.GetInt("upload.max_mb"),
		SSEKeepAlive:           keepAlive,
		SyncBootstrapTimeout:   bootstrapTimeout,
		QuietHoursEnabled:      v.GetBool("quiet_hours.enabled"),
		QuietHoursStart:        v.GetInt("quiet_hours.start"),
		QuietHoursEnd:          v.GetInt("quiet_hours.end"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 10
	}

	if cfg.QuietHoursStart < 0 || cfg.QuietHoursStart > 23 || cfg.QuietHoursEnd < 0 || cfg.QuietHoursEnd > 23 {
		return Config{}, fmt.Errorf("quiet hours must be hours of day between 0 and 23")
	}

	return cfg, nil
}
