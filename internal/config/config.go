package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	Auth        AuthConfig       `yaml:"auth"`
	Logging     LoggingConfig    `yaml:"logging"`
	Logs        LogsConfig       `yaml:"logs"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Identity    IdentityConfig   `yaml:"identity"`
	Cache       CacheConfig      `yaml:"cache"`
	Notify      NotifyConfig     `yaml:"notify"`
	GameServers []GameServer     `yaml:"game_servers"`
}

// AuthConfig holds admin token settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls the zap logger built at startup
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// LogsConfig locates the per-server game log files
type LogsConfig struct {
	Dir string `yaml:"dir"`
}

// CheckpointConfig locates the per-server checkpoint files
type CheckpointConfig struct {
	Dir string `yaml:"dir"`
}

// IngestConfig controls the ingestion scheduler
type IngestConfig struct {
	Interval      time.Duration `yaml:"interval"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	InterRunDelay time.Duration `yaml:"inter_run_delay"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// IdentityConfig holds id conversion and profile lookup settings
type IdentityConfig struct {
	// Overrides maps Steam64 ids to account ids for accounts whose
	// conversion does not follow the base offset.
	Overrides      map[int64]int64 `yaml:"overrides"`
	LegacyUniverse int             `yaml:"legacy_universe"`
	SteamAPIKey    string          `yaml:"steam_api_key"`
	ProfileTimeout time.Duration   `yaml:"profile_timeout"`
	ProfileRPS     float64         `yaml:"profile_rps"`
}

// CacheConfig controls leaderboard result caching
type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
}

// NotifyConfig holds optional run-summary publishing settings
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// GameServer is a game server whose log is ingested on the schedule
type GameServer struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
}

// Load reads configuration from a YAML file. A .env file next to the
// working directory is loaded first so secrets can stay out of the YAML.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STEAM_API_KEY"); v != "" {
		cfg.Identity.SteamAPIKey = v
	}
	if v := os.Getenv("ROUNDTALLY_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ROUNDTALLY_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("ROUNDTALLY_NATS_URL"); v != "" {
		cfg.Notify.NATSURL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/roundtally/roundtally.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logs.Dir == "" {
		cfg.Logs.Dir = "/var/lib/roundtally/logs"
	}
	if cfg.Checkpoints.Dir == "" {
		cfg.Checkpoints.Dir = "/var/lib/roundtally/checkpoints"
	}

	if cfg.Ingest.Interval == 0 {
		cfg.Ingest.Interval = 5 * time.Minute
	}
	if cfg.Ingest.RunTimeout == 0 {
		cfg.Ingest.RunTimeout = 2 * time.Minute
	}
	if cfg.Ingest.StaleAfter == 0 {
		// Twice the run timeout: a lock older than that belongs to a run
		// that can no longer be alive.
		cfg.Ingest.StaleAfter = 2 * cfg.Ingest.RunTimeout
	}
	if cfg.Ingest.MaxConcurrent == 0 {
		cfg.Ingest.MaxConcurrent = 4
	}

	if cfg.Identity.LegacyUniverse == 0 {
		cfg.Identity.LegacyUniverse = 1
	}
	if cfg.Identity.ProfileTimeout == 0 {
		cfg.Identity.ProfileTimeout = 5 * time.Second
	}
	if cfg.Identity.ProfileRPS == 0 {
		cfg.Identity.ProfileRPS = 1
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 30 * 24 * time.Hour
	}
}

// Validate checks settings that have no sensible default
func (c *Config) Validate() error {
	seen := make(map[int64]bool, len(c.GameServers))
	for _, gs := range c.GameServers {
		if gs.ID <= 0 {
			return fmt.Errorf("game server %q: id must be positive", gs.Name)
		}
		if seen[gs.ID] {
			return fmt.Errorf("game server id %d configured twice", gs.ID)
		}
		seen[gs.ID] = true
	}
	if c.Ingest.MaxConcurrent < 0 {
		return fmt.Errorf("ingest.max_concurrent must not be negative")
	}
	return nil
}

// GameServerName returns the configured name for a server id, or "" if
// the id is not configured.
func (c *Config) GameServerName(id int64) string {
	for _, gs := range c.GameServers {
		if gs.ID == id {
			return gs.Name
		}
	}
	return ""
}
