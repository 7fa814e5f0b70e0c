package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	StateFile      string
	AdminUsers     []string
	AdminAccess    bool
	SpawnerCommand []string
	HomeRoot       string
	DataRoot       string
	DefaultShell   string

	SpawnWait   time.Duration
	StopWait    time.Duration
	PollTimeout time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:        8000,
		GinMode:     "release",
		TokenExpiry: 7 * 24 * time.Hour,
		SpawnWait:   10 * time.Second,
		StopWait:    10 * time.Second,
		PollTimeout: 10 * time.Second,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.StateFile = env.Getenv("STATE_FILE")
	cfg.HomeRoot = env.Getenv("HOME_ROOT")
	cfg.DataRoot = env.Getenv("DATA_ROOT")
	cfg.DefaultShell = env.Getenv("DEFAULT_SHELL")

	if raw := env.Getenv("ADMIN_USERS"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.AdminUsers = append(cfg.AdminUsers, name)
			}
		}
	}

	cfg.AdminAccess = env.Getenv("ADMIN_ACCESS") == "1"

	if raw := env.Getenv("SPAWNER_COMMAND"); raw != "" {
		cfg.SpawnerCommand = strings.Fields(raw)
	}

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"SPAWN_WAIT_SECONDS", &cfg.SpawnWait},
		{"STOP_WAIT_SECONDS", &cfg.StopWait},
		{"POLL_TIMEOUT_SECONDS", &cfg.PollTimeout},
	} {
		if raw := env.Getenv(f.key); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds <= 0 {
				return Config{}, fmt.Errorf("invalid %s", f.key)
			}
			*f.dst = time.Duration(seconds) * time.Second
		}
	}

	return cfg, nil
}
