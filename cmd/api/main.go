// Command api runs the CyberTip triage service: intake, the enrichment
// pipeline and its workers, and the HTTP surface the dashboard talks to.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tipline/backend/internal/agent"
	"github.com/tipline/backend/internal/api"
	"github.com/tipline/backend/internal/audit"
	"github.com/tipline/backend/internal/circuitbreaker"
	"github.com/tipline/backend/internal/config"
	"github.com/tipline/backend/internal/events"
	"github.com/tipline/backend/internal/handlers"
	"github.com/tipline/backend/internal/ingest"
	"github.com/tipline/backend/internal/legal"
	"github.com/tipline/backend/internal/metrics"
	"github.com/tipline/backend/internal/models"
	"github.com/tipline/backend/internal/oracle"
	"github.com/tipline/backend/internal/pipeline"
	"github.com/tipline/backend/internal/priority"
	"github.com/tipline/backend/internal/stages"
	"github.com/tipline/backend/internal/store"
	"github.com/tipline/backend/internal/watchlist"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownGrace     = 30 * time.Second
	clusterScanEvery  = time.Hour
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("⚙️ env=%s db=%s queue=%s oracle=%s demo=%v",
		cfg.Env, cfg.Database.Mode, cfg.Queue.Mode, cfg.Oracle.ToolMode, cfg.Pipeline.DemoMode)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bus := events.NewBus()
	registry := watchlist.NewRegistry()

	// Storage backend.
	var (
		repo       store.TipRepository
		auditLog   audit.Log
		precedents legal.PrecedentStore
		db         *sql.DB
		resets     = []handlers.Resettable{bus, registry}
	)
	switch cfg.Database.Mode {
	case config.DBModePostgres:
		db, err = store.Open(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		pgLog := audit.NewPostgresLog(db)
		auditLog = pgLog
		repo = store.NewPostgresStore(db, pgLog, bus)
		precedents = store.NewPostgresPrecedents(db)
		log.Printf("🗄️ postgres store ready")
	default:
		memLog := audit.NewMemoryLog()
		memRepo := store.NewMemoryStore(memLog, bus)
		auditLog, repo = memLog, memRepo
		resets = append(resets, memRepo, memLog)
		log.Printf("🗄️ in-memory store ready (tips do not survive a restart)")
	}

	// Intake queue.
	var (
		queue ingest.Queue
		rdb   *redis.Client
	)
	if cfg.Queue.Mode == config.QueueModeDurable {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPass,
		})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr := rdb.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			log.Fatalf("Failed to reach redis at %s: %v", cfg.Queue.RedisAddr, pingErr)
		}
		queue = ingest.NewRedisQueue(rdb, "", m)
		log.Printf("📨 durable queue on redis %s", cfg.Queue.RedisAddr)
	} else {
		queue = ingest.NewMemoryQueue(0, m)
	}

	// Fingerprint register: rides redis when the durable queue is on so
	// dedup survives restarts alongside the backlog, otherwise it follows
	// the store backend.
	var claims ingest.Claims
	switch {
	case rdb != nil:
		claims = ingest.NewRedisClaims(rdb, 0)
	case db != nil:
		claims = store.NewPostgresClaims(db)
	default:
		memClaims := ingest.NewMemoryClaims()
		claims = memClaims
		resets = append(resets, memClaims)
	}

	// Oracle provider.
	var provider oracle.Provider
	if cfg.Oracle.ToolMode == config.ToolModeReal {
		provider = oracle.NewOpenAIProvider(
			oracle.WithAPIKey(cfg.Oracle.APIKey),
			oracle.WithBaseURL(cfg.Oracle.BaseURL),
			oracle.WithModels(cfg.Oracle.ModelHigh, cfg.Oracle.ModelFast),
			oracle.WithTimeout(cfg.Oracle.Timeout),
		)
		log.Printf("🧠 oracle: %s / %s", cfg.Oracle.ModelHigh, cfg.Oracle.ModelFast)
	} else {
		provider = oracle.NewStubProvider()
		log.Printf("🧠 oracle: deterministic stub")
	}

	breakers := circuitbreaker.NewUpstreamBreakers()
	harness := agent.NewHarness(provider, breakers.Oracle, auditLog, m, agent.HarnessConfig{
		MaxAttempts: cfg.Oracle.MaxRetries,
		RetryBase:   cfg.Oracle.RetryBase,
	})

	// Hash watchlist. Offline mode answers from the bundled snapshot.
	var hashDB watchlist.HashDB = watchlist.NewMemoryHashDB("industry")
	if cfg.Offline.Enabled {
		snap, err := watchlist.NewOfflineHashDB(cfg.Offline.HashDBPath)
		if err != nil {
			log.Fatalf("Failed to load offline hash DB: %v", err)
		}
		hashDB = snap
		log.Printf("🔌 offline hash DB: %d entries from %s", snap.Size(), cfg.Offline.HashDBPath)
	}
	if cfg.Pipeline.DemoMode {
		seedDemoHashes(hashDB)
	}

	ref := legal.NewReference(precedents)
	engine := priority.NewEngine(legal.NewRetentionTable(cfg.Retention.Overrides))

	pl := pipeline.New(pipeline.Stages{
		Intake:     stages.NewIntake(harness),
		Gate:       stages.NewWilsonGate(harness, ref),
		Extraction: stages.NewExtraction(harness),
		HashOSINT:  stages.NewHashOSINT(harness, hashDB, nil, breakers.HashDB),
		Classifier: stages.NewClassifier(harness),
		Linker:     stages.NewLinker(registry, repo),
		Priority:   stages.NewPriority(harness, engine),
	}, repo, auditLog, bus, m, pipeline.Config{
		StageTimeout: cfg.Pipeline.StageTimeout,
		TipTimeout:   cfg.Pipeline.TipTimeout,
		DemoMode:     cfg.Pipeline.DemoMode,
	})

	svc := ingest.NewService(claims, queue, repo, auditLog, m)
	scanner := ingest.NewScanner(repo, auditLog, 0)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	queue.Drain(workerCtx, func(ctx context.Context, job pipeline.Job) error {
		_, err := pl.Process(ctx, job)
		return err
	}, cfg.Queue.Concurrency)
	scanner.Start(workerCtx, clusterScanEvery)

	// With the durable queue on, a tip can be drained by any instance, so
	// stage events ride redis to reach SSE streams on the others.
	if rdb != nil {
		relay := events.NewRelay(rdb, bus, "")
		go func() {
			if err := relay.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Event relay stopped: %v", err)
			}
		}()
		log.Printf("📡 stage event relay on %s", relay.Channel())
	}

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Repo:     repo,
		Audit:    auditLog,
		Bus:      bus,
		Queue:    queue,
		Ingest:   svc,
		Scanner:  scanner,
		Legal:    ref,
		Metrics:  m,
		Gatherer: reg,
		Resets:   resets,
	})

	// Graceful shutdown: stop HTTP intake first, let the workers run the
	// backlog down, then stop the scanner.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := queue.Shutdown(ctx); err != nil {
			log.Printf("Queue shutdown error: %v", err)
		}
		stopWorkers()
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Println("Server stopped")
}

// seedDemoHashes plants the digests scripts/simulate_feed.go posts, so demo
// runs show real watchlist verdicts instead of all-novel material.
func seedDemoHashes(db watchlist.HashDB) {
	mem, ok := db.(*watchlist.MemoryHashDB)
	if !ok {
		return
	}
	mem.Seed("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", "", models.FileMatchResult{
		NCMECMatch:        true,
		ProjectVICMatch:   true,
		KnownVictimSeries: true,
		MatchedDatabases:  []string{"ncmec", "project_vic"},
	})
	mem.Seed("5feceb66ffc86f38d952786c6d696c79c2dbc239dd4e91b46729d73a27fb57e9", "", models.FileMatchResult{
		NCMECMatch:       true,
		MatchedDatabases: []string{"ncmec"},
	})
}
