package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"spawnhub/internal/auth"
	"spawnhub/internal/config"
	"spawnhub/internal/hub"
	"spawnhub/internal/lifecycle"
	"spawnhub/internal/provision"
	"spawnhub/internal/registry"
	"spawnhub/internal/server"
	"spawnhub/internal/spawner"
	"spawnhub/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	gin.SetMode(cfg.GinMode)
	st := store.NewWithOptions(store.Options{StateFile: cfg.StateFile})

	reg := registry.New(st, registry.PlainAuthenticator{}, registry.SystemNamespace{})
	prov := provision.New(provision.Options{
		Fs:           afero.NewOsFs(),
		Accounts:     provision.ExecAccounts{},
		Records:      reg,
		HomeRoot:     cfg.HomeRoot,
		DataRoot:     cfg.DataRoot,
		DefaultShell: cfg.DefaultShell,
	})

	eventHub := hub.New()
	controller := lifecycle.New(lifecycle.Options{
		Factory:     spawner.NewLocalFactory(cfg.SpawnerCommand),
		Notifier:    eventHub,
		SpawnWait:   cfg.SpawnWait,
		StopWait:    cfg.StopWait,
		PollTimeout: cfg.PollTimeout,
	})

	ctx := context.Background()
	for _, name := range cfg.AdminUsers {
		if _, ok := reg.Find(name); ok {
			continue
		}
		account, err := reg.Create(ctx, name, true)
		if err != nil {
			log.Printf("admin bootstrap: create %s failed: %v", name, err)
			continue
		}
		if _, err := prov.Provision(account); err != nil {
			log.Printf("admin bootstrap: provision %s failed: %v", name, err)
			reg.Rollback(ctx, account)
		}
	}

	// in-flight transition memory does not survive restarts; re-derive
	// ground truth before serving
	controller.ReconcileAll(ctx)

	tokenCfg := auth.TokenConfig{
		Secret: cfg.MasterSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "spawnhub",
	}

	router := server.NewRouter(server.Deps{
		Registry:    reg,
		Provisioner: prov,
		Controller:  controller,
		Hub:         eventHub,
		TokenConfig: tokenCfg,
		AdminAccess: cfg.AdminAccess,
	})
	log.Printf("listening on %s", fmt.Sprintf(":%d", cfg.Port))
	log.Fatal(server.Run(cfg, router))
}
