// Package config loads service configuration from the environment.
// A .env file is honored when present; real environment variables win.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every recognized setting.
type Config struct {
	DiscordToken string
	HTTPAddr     string

	// Queue
	PerUserCap  int
	PlaylistDir string

	// Presence
	PresenceTTL   time.Duration
	PresenceSweep time.Duration

	// Priority
	RoleWeights map[string]int
	OwnerID     string

	// Audio
	EQPresets      map[string]string
	IntroAssetPath string
	TranscoderPath string
	RateLimit      int // bytes/s for stream fetches, 0 = unlimited
	CookiesFile    string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("No .env file, using environment variables")
	}

	cfg := &Config{
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		PerUserCap:     10,
		PlaylistDir:    envOr("PLAYLIST_DIR", "playlists"),
		PresenceTTL:    45 * time.Second,
		PresenceSweep:  20 * time.Second,
		RoleWeights:    map[string]int{},
		OwnerID:        os.Getenv("GREG_OWNER_ID"),
		EQPresets:      map[string]string{"off": "", "music": "bass=g=2,treble=g=1,loudnorm"},
		IntroAssetPath: os.Getenv("INTRO_ASSET_PATH"),
		TranscoderPath: envOr("TRANSCODER_PATH", "ffmpeg"),
		CookiesFile:    os.Getenv("COOKIES_FILE"),
	}

	var err error
	if cfg.PerUserCap, err = envInt("QUEUE_PER_USER_CAP", cfg.PerUserCap); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("STREAM_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if ttl, err := envInt("PRESENCE_TTL_SECONDS", 45); err != nil {
		return nil, err
	} else {
		cfg.PresenceTTL = time.Duration(ttl) * time.Second
	}
	if sweep, err := envInt("PRESENCE_SWEEP_SECONDS", 20); err != nil {
		return nil, err
	} else {
		cfg.PresenceSweep = time.Duration(sweep) * time.Second
	}

	if raw := os.Getenv("PRIORITY_ROLE_WEIGHTS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.RoleWeights); err != nil {
			return nil, fmt.Errorf("parsing PRIORITY_ROLE_WEIGHTS: %w", err)
		}
	}
	if raw := os.Getenv("AUDIO_EQ_PRESETS"); raw != "" {
		presets := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &presets); err != nil {
			return nil, fmt.Errorf("parsing AUDIO_EQ_PRESETS: %w", err)
		}
		for name, filter := range presets {
			cfg.EQPresets[name] = filter
		}
	}

	return cfg, nil
}

// Validate checks settings the service cannot start without.
func (c *Config) Validate() error {
	if c.PlaylistDir == "" {
		return fmt.Errorf("PLAYLIST_DIR must not be empty")
	}
	if err := os.MkdirAll(c.PlaylistDir, 0o750); err != nil {
		return fmt.Errorf("playlist directory %q is not writable: %w", c.PlaylistDir, err)
	}
	if c.TranscoderPath == "" {
		return fmt.Errorf("TRANSCODER_PATH must not be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
