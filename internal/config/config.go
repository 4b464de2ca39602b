package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Presence struct {
		TTL string `yaml:"ttl"`
	} `yaml:"presence"`
	Room struct {
		MinPlayers   int  `yaml:"minPlayers"`
		RequireReady bool `yaml:"requireReady"`
	} `yaml:"room"`
	Game struct {
		GracePeriod string `yaml:"gracePeriod"`
		RateLimit   int    `yaml:"rateLimit"`
		RateWindow  string `yaml:"rateWindow"`
		AutoAdvance bool   `yaml:"autoAdvance"`
	} `yaml:"game"`
	Reaper struct {
		Interval        string `yaml:"interval"`
		EmptyTTL        string `yaml:"emptyTtl"`
		ArchiveFinished bool   `yaml:"archiveFinished"`
	} `yaml:"reaper"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
