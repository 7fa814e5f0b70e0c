package config

import (
	"testing"
	"time"
)

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
	if cfg.SpawnWait != 10*time.Second {
		t.Fatalf("expected default spawn wait, got %v", cfg.SpawnWait)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_AdminUsers(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "ADMIN_USERS": "alice, bob ,"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.AdminUsers) != 2 || cfg.AdminUsers[0] != "alice" || cfg.AdminUsers[1] != "bob" {
		t.Fatalf("unexpected admin users: %v", cfg.AdminUsers)
	}
}

func TestLoadConfigFromEnv_SpawnerCommand(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "SPAWNER_COMMAND": "sleep 3600"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(cfg.SpawnerCommand) != 2 || cfg.SpawnerCommand[0] != "sleep" {
		t.Fatalf("unexpected spawner command: %v", cfg.SpawnerCommand)
	}
}

func TestLoadConfigFromEnv_InvalidWait(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{"MASTER_SECRET": "x", "SPAWN_WAIT_SECONDS": "zero"})
	if err == nil {
		t.Fatalf("expected error")
	}
}
