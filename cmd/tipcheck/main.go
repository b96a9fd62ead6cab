// Command tipcheck is the pre-flight doctor for a triage deployment: it
// loads the service config, then verifies every backend the selected modes
// will need. Exit status is non-zero when any check fails, so it slots into
// CI and container entrypoints.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tipline/backend/internal/config"
	"github.com/tipline/backend/internal/store"
	"github.com/tipline/backend/internal/watchlist"
)

type check struct {
	name string
	run  func(cfg *config.Config) (detail string, err error)
	skip func(cfg *config.Config) (reason string, skipped bool)
}

func main() {
	fmt.Println("\033[96mCyberTip Triage - Environment Doctor\033[0m")
	fmt.Println("---------------------------------------------------------")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	failed := 0
	cfg, err := config.Load(cfgPath)
	if err != nil {
		report("Config contract", "", err)
		fmt.Println("---------------------------------------------------------")
		fmt.Println("\033[31mStatus: NOT ready.\033[0m")
		os.Exit(1)
	}
	report("Config contract", fmt.Sprintf("db=%s queue=%s oracle=%s",
		cfg.Database.Mode, cfg.Queue.Mode, cfg.Oracle.ToolMode), nil)

	checks := []check{
		{
			name: "Postgres",
			skip: func(cfg *config.Config) (string, bool) {
				if cfg.Database.Mode != config.DBModePostgres {
					return "DB_MODE=" + cfg.Database.Mode, true
				}
				return "", false
			},
			run: checkPostgres,
		},
		{
			name: "Redis",
			skip: func(cfg *config.Config) (string, bool) {
				if cfg.Queue.Mode != config.QueueModeDurable {
					return "QUEUE_MODE=" + cfg.Queue.Mode, true
				}
				return "", false
			},
			run: checkRedis,
		},
		{
			name: "Offline hash DB",
			skip: func(cfg *config.Config) (string, bool) {
				if !cfg.Offline.Enabled {
					return "OFFLINE_MODE off", true
				}
				return "", false
			},
			run: checkOfflineHashDB,
		},
		{
			name: "Oracle credentials",
			skip: func(cfg *config.Config) (string, bool) {
				if cfg.Oracle.ToolMode != config.ToolModeReal {
					return "TOOL_MODE=" + cfg.Oracle.ToolMode, true
				}
				return "", false
			},
			run: checkOracleCredentials,
		},
	}

	for _, c := range checks {
		if reason, skipped := c.skip(cfg); skipped {
			fmt.Printf("Checking %-25s \033[33m[SKIP]\033[0m %s\n", c.name+"...", reason)
			continue
		}
		detail, err := c.run(cfg)
		report(c.name, detail, err)
		if err != nil {
			failed++
		}
	}

	fmt.Println("---------------------------------------------------------")
	if failed > 0 {
		fmt.Printf("\033[31mStatus: NOT ready (%d check(s) failed).\033[0m\n", failed)
		os.Exit(1)
	}
	fmt.Println("\033[32mStatus: ready.\033[0m")
}

func report(name, detail string, err error) {
	if err != nil {
		fmt.Printf("Checking %-25s \033[31m[FAIL]\033[0m\n", name+"...")
		fmt.Printf("  >> Error: %v\n", err)
		return
	}
	if detail != "" {
		fmt.Printf("Checking %-25s \033[32m[OK]\033[0m   %s\n", name+"...", detail)
		return
	}
	fmt.Printf("Checking %-25s \033[32m[OK]\033[0m\n", name+"...")
}

func checkPostgres(cfg *config.Config) (string, error) {
	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		return "", err
	}
	defer db.Close()
	return "connected", nil
}

func checkRedis(cfg *config.Config) (string, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPass,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return "", fmt.Errorf("ping redis at %s: %w", cfg.Queue.RedisAddr, err)
	}
	return cfg.Queue.RedisAddr, nil
}

func checkOfflineHashDB(cfg *config.Config) (string, error) {
	if cfg.Offline.HashDBPath == "" {
		return "", fmt.Errorf("OFFLINE_MODE=true requires OFFLINE_HASH_DB_PATH")
	}
	db, err := watchlist.NewOfflineHashDB(cfg.Offline.HashDBPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d entries", db.Size()), nil
}

func checkOracleCredentials(cfg *config.Config) (string, error) {
	// Load already rejects an empty key; this reports the models a live run
	// would use without spending a request.
	return fmt.Sprintf("%s / %s", cfg.Oracle.ModelHigh, cfg.Oracle.ModelFast), nil
}
