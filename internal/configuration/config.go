package configuration

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
	CallsCollection         string `json:"callsCollection"`
}

type RedisConfig struct {
	// Url empty means in-process fan-out and a ticker-based reaper.
	Url string `json:"url"`
}

type LiveKitConfig struct {
	ApiKey          string `json:"api_key"`
	ApiSecret       string `json:"api_secret"`
	TokenTTLMinutes int    `json:"token_ttl_minutes"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	StreamPort     int      `json:"stream_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type RealtimeConfig struct {
	RingTimeoutSeconds int `json:"ring_timeout_seconds"`
	HeartbeatSeconds   int `json:"heartbeat_seconds"`
	ReapCadenceSeconds int `json:"reap_cadence_seconds"`
}

type Config struct {
	Mongo    MongoConfig    `json:"mongo"`
	Redis    RedisConfig    `json:"redis"`
	LiveKit  LiveKitConfig  `json:"livekit"`
	Server   ServerConfig   `json:"server"`
	Realtime RealtimeConfig `json:"realtime"`
}

// LoadConfig reads the JSON config file and applies environment overrides.
// A .env file in the working directory is loaded first when present, so local
// runs need no exported variables.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)
	return &config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.Mongo.Uri = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.Url = v
	}
	if v := os.Getenv("LIVEKIT_API_KEY"); v != "" {
		c.LiveKit.ApiKey = v
	}
	if v := os.Getenv("LIVEKIT_API_SECRET"); v != "" {
		c.LiveKit.ApiSecret = v
	}
	if v := os.Getenv("APP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.AppPort = n
		}
	}
	if v := os.Getenv("STREAM_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.StreamPort = n
		}
	}
	if v := os.Getenv("RING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Realtime.RingTimeoutSeconds = n
		}
	}
}

func applyDefaults(c *Config) {
	if c.Mongo.MessagesCollection == "" {
		c.Mongo.MessagesCollection = "messages"
	}
	if c.Mongo.ConversationsCollection == "" {
		c.Mongo.ConversationsCollection = "conversations"
	}
	if c.Mongo.CallsCollection == "" {
		c.Mongo.CallsCollection = "calls"
	}
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.StreamPort == 0 {
		c.Server.StreamPort = 8081
	}
	if c.Realtime.RingTimeoutSeconds == 0 {
		c.Realtime.RingTimeoutSeconds = 45
	}
	if c.Realtime.HeartbeatSeconds == 0 {
		c.Realtime.HeartbeatSeconds = 25
	}
	if c.Realtime.ReapCadenceSeconds == 0 {
		c.Realtime.ReapCadenceSeconds = 30
	}
	if c.LiveKit.TokenTTLMinutes == 0 {
		c.LiveKit.TokenTTLMinutes = 60
	}
}
