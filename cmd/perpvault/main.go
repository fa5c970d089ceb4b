package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"PerpVault/internal/auth"
	"PerpVault/internal/custody"
	"PerpVault/internal/event"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"
	"PerpVault/internal/persistence"
	"PerpVault/internal/projection"
	"PerpVault/internal/query"
	"PerpVault/internal/registry"
	"PerpVault/internal/server"
	"PerpVault/internal/vault"
	"PerpVault/migrations"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// Config holds all application configuration, loaded from PERP_* env vars.
type Config struct {
	// Empty disables the event log and snapshots.
	PostgresDSN string
	// Empty disables price ingestion, commands and outbound events.
	NATSURL string

	PersistChanSize int
	PublishChanSize int

	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	SnapshotInterval time.Duration

	GRPCAddr string
	HTTPAddr string

	// VaultConfigPath points at the YAML bootstrap file applied by the
	// governor at startup.
	VaultConfigPath   string
	Governor          auth.Identity
	VaultIdentity     auth.Identity
	// HelperIdentity holds VaultHelper and performs snapshot recovery.
	HelperIdentity    auth.Identity
	DebtToken         registry.Asset
	DebtTokenDecimals uint8
	// CustodyFaucet enables Credit commands.
	CustodyFaucet        bool
	CommandDedupCapacity int
}

func DefaultConfig() (Config, error) {
	cfg := Config{
		PostgresDSN:         os.Getenv("PERP_POSTGRES_DSN"),
		NATSURL:             os.Getenv("PERP_NATS_URL"),
		PersistChanSize:     envIntOrDefault("PERP_PERSIST_CHAN_SIZE", 1024),
		PublishChanSize:     envIntOrDefault("PERP_PUBLISH_CHAN_SIZE", 2048),
		PersistBatchSize:    envIntOrDefault("PERP_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: 10 * time.Millisecond,
		SnapshotInterval:    envDurationOrDefault("PERP_SNAPSHOT_INTERVAL", time.Minute),
		GRPCAddr:            envOrDefault("PERP_GRPC_ADDR", ":9090"),
		HTTPAddr:            envOrDefault("PERP_HTTP_ADDR", ":8080"),
		VaultConfigPath:     os.Getenv("PERP_VAULT_CONFIG"),
		DebtToken:           registry.Asset(envOrDefault("PERP_DEBT_TOKEN", "RUSD")),
		DebtTokenDecimals:   uint8(envIntOrDefault("PERP_DEBT_TOKEN_DECIMALS", vault.DefaultDebtTokenDecimals)),
		CustodyFaucet:       os.Getenv("PERP_CUSTODY_FAUCET") == "true",

		CommandDedupCapacity: envIntOrDefault("PERP_COMMAND_DEDUP_CAPACITY", ingestion.DefaultDedupCapacity),
	}

	gov := os.Getenv("PERP_GOV_IDENTITY")
	if gov == "" {
		return cfg, errors.New("PERP_GOV_IDENTITY is required")
	}
	id, err := auth.ParseIdentity(gov)
	if err != nil {
		return cfg, fmt.Errorf("PERP_GOV_IDENTITY: %w", err)
	}
	cfg.Governor = id

	if s := os.Getenv("PERP_VAULT_IDENTITY"); s != "" {
		id, err := auth.ParseIdentity(s)
		if err != nil {
			return cfg, fmt.Errorf("PERP_VAULT_IDENTITY: %w", err)
		}
		cfg.VaultIdentity = id
	} else {
		cfg.VaultIdentity = auth.ContractIdentity(sha256.Sum256([]byte("perpvault/" + string(cfg.DebtToken))))
	}

	if s := os.Getenv("PERP_HELPER_IDENTITY"); s != "" {
		id, err := auth.ParseIdentity(s)
		if err != nil {
			return cfg, fmt.Errorf("PERP_HELPER_IDENTITY: %w", err)
		}
		cfg.HelperIdentity = id
	} else {
		cfg.HelperIdentity = auth.ContractIdentity(sha256.Sum256([]byte("perpvault-recovery/" + string(cfg.DebtToken))))
	}
	if cfg.HelperIdentity == cfg.VaultIdentity {
		return cfg, errors.New("PERP_HELPER_IDENTITY must differ from the vault identity")
	}
	return cfg, nil
}

func main() {
	logger := observability.NewLogger("perpvault")

	cfg, err := DefaultConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("perpvault stopped")
	}
}

func run(cfg Config, logger zerolog.Logger) error {
	logger.Info().Msg("PerpVault starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetricsWith(reg)
	healthChecker := observability.NewHealthChecker()

	// --- Custody, oracle, access control ---
	gate := auth.NewGate(cfg.Governor)
	if err := gate.Authorize(cfg.Governor, cfg.VaultIdentity, auth.RoleVault); err != nil {
		return err
	}
	if err := gate.Authorize(cfg.Governor, cfg.HelperIdentity, auth.RoleVaultHelper); err != nil {
		return err
	}
	tokens := custody.NewMemory(cfg.DebtToken)
	tokens.AddMinter(cfg.VaultIdentity)
	prices := oracle.NewPriceFeed()

	// --- Postgres ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		var err error
		db, err = openPostgres(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		healthChecker.AddProbe("postgres", db.PingContext)
	} else {
		logger.Warn().Msg("PERP_POSTGRES_DSN not set, event log and snapshots disabled")
	}

	// --- Channels ---
	var persistChan, publishChan chan *event.Envelope
	if db != nil {
		persistChan = make(chan *event.Envelope, cfg.PersistChanSize)
	}
	if cfg.NATSURL != "" {
		publishChan = make(chan *event.Envelope, cfg.PublishChanSize)
	}

	v, err := vault.New(vault.Config{
		Self:              cfg.VaultIdentity,
		DebtTokenDecimals: cfg.DebtTokenDecimals,
	}, vault.Deps{
		Gate:        gate,
		Registry:    registry.New(),
		Oracle:      prices,
		Custody:     tokens,
		DebtToken:   tokens,
		Metrics:     metrics,
		Logger:      observability.NewLogger("vault"),
		PersistChan: persistChan,
		PublishChan: publishChan,
	})
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}

	// --- Recovery ---
	var snapMgr *persistence.SnapshotManager
	var writer *persistence.EventLogWriter
	queryService := query.NewService(v, nil)
	if db != nil {
		snapMgr = persistence.NewSnapshotManager(db, metrics, logger)
		writer = persistence.NewEventLogWriter(db)
		queryService = query.NewService(v, writer).WithHistory(projection.NewStore(db))
		if err := restoreVault(ctx, v, gate.Capability(cfg.HelperIdentity), tokens, snapMgr, writer, logger); err != nil {
			return err
		}
	}

	// --- Bootstrap configuration ---
	if cfg.VaultConfigPath != "" {
		f, err := registry.LoadFile(cfg.VaultConfigPath)
		if err != nil {
			return err
		}
		if err := f.Apply(v, cfg.Governor, v.DebtTokenDecimals()); err != nil {
			return fmt.Errorf("apply vault config: %w", err)
		}
		logger.Info().Str("path", cfg.VaultConfigPath).Int("assets", len(f.Assets)).Msg("vault config applied")
	}

	errChan := make(chan error, 8)
	var workers sync.WaitGroup

	// --- NATS ---
	var priceSub *ingestion.PriceSubscriber
	var commandSub *ingestion.CommandSubscriber
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		healthChecker.AddProbe("nats", func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats %s", s)
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}

		priceSub = ingestion.NewPriceSubscriber(js, prices, metrics, observability.NewLogger("prices"))
		if err := priceSub.Subscribe(ctx); err != nil {
			return fmt.Errorf("price subscribe: %w", err)
		}

		var faucet ingestion.Faucet
		if cfg.CustodyFaucet {
			faucet = tokens
			logger.Warn().Msg("custody faucet enabled, Credit commands mint tokens from nothing")
		}
		guard, err := ingestion.NewCommandGuard(cfg.CommandDedupCapacity)
		if err != nil {
			return err
		}
		commandSub = ingestion.NewCommandSubscriber(js, v, tokens, faucet, observability.NewLogger("commands")).WithGuard(guard)
		if err := commandSub.Subscribe(ctx); err != nil {
			return fmt.Errorf("command subscribe: %w", err)
		}

		// Publishing runs until publishChan closes so the tail of the
		// session still goes out after the signal.
		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := publisher.Run(context.Background()); err != nil {
				logger.Error().Err(err).Msg("outbound publisher stopped")
			}
		}()
	} else {
		logger.Warn().Msg("PERP_NATS_URL not set, prices and commands disabled")
	}

	// --- Persistence ---
	if db != nil {
		worker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(context.Background()); err != nil {
				errChan <- fmt.Errorf("persistence worker: %w", err)
			}
		}()
		projWorker := projection.NewProjectionWorker(db, writer, 500, time.Second, metrics, observability.NewLogger("projection"))
		go func() {
			if err := projWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("projection worker: %w", err)
			}
		}()
		go func() {
			if err := snapMgr.RunPeriodic(ctx, v, cfg.SnapshotInterval); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("snapshots: %w", err)
			}
		}()
	}

	// --- gRPC + HTTP ---
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Query:         queryService,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      reg,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return err
	}
	go func() { errChan <- srv.StartGRPC(ctx) }()
	go func() { errChan <- srv.StartHTTP(ctx) }()

	srv.SetServing(true)
	healthChecker.SetReady(true)
	logger.Info().
		Int64("seq", v.Sequence()).
		Stringer("vault", v.Self()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("PerpVault ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop every writer before closing the channels the vault sends on.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	cancel()
	if priceSub != nil {
		priceSub.Stop()
	}
	if commandSub != nil {
		commandSub.Stop()
	}
	if persistChan != nil {
		close(persistChan)
	}
	if publishChan != nil {
		close(publishChan)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	waitOrTimeout(shutdownCtx, &workers, logger)

	if snapMgr != nil {
		if snap, err := snapMgr.Take(shutdownCtx, v); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("seq", snap.Sequence).Msg("final snapshot saved")
		}
	}

	logger.Info().Msg("PerpVault shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, migrations.FS, logger).Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// truncateHint is appended to recovery errors an operator can clear.
const truncateHint = "; after an unclean exit run `migrate truncate-log` to discard operations past the latest verified snapshot"

// restoreVault restores the latest verified snapshot as the recovery
// helper. The event log must not run ahead of it: operations cannot be
// replayed without the custody movements that accompanied them.
func restoreVault(ctx context.Context, v *vault.Vault, helper auth.Capability, tokens *custody.Memory, snapMgr *persistence.SnapshotManager, writer *persistence.EventLogWriter, logger zerolog.Logger) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	head, err := writer.LatestSequence(ctx)
	if err != nil {
		return err
	}

	if snap == nil {
		if head > 0 {
			return fmt.Errorf("event log holds %d operations but no verified snapshot exists%s", head, truncateHint)
		}
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
		return nil
	}
	if head > snap.Sequence {
		logger.Error().
			Int64("log_head", head).
			Int64("snapshot_seq", snap.Sequence).
			Int64("unreplayable", head-snap.Sequence).
			Msg("event log is ahead of the latest verified snapshot")
		return fmt.Errorf("event log head %d is ahead of snapshot %d%s", head, snap.Sequence, truncateHint)
	}

	if err := v.RestoreFromSnapshot(helper, snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if v.StateHash() != snap.StateHash {
		return fmt.Errorf("%w: state hash after restore", persistence.ErrSnapshotMismatch)
	}

	// In-memory custody starts empty; give the vault back what it had
	// accounted for.
	for _, s := range snap.Assets {
		if !s.TokenBalance.IsZero() {
			tokens.Credit(s.Asset, v.Self(), s.TokenBalance)
		}
	}
	logger.Warn().
		Int64("seq", snap.Sequence).
		Msg("custody reseeded with vault balances only, holder balances are not persisted")
	return nil
}

func waitOrTimeout(ctx context.Context, wg *sync.WaitGroup, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn().Msg("workers did not drain before shutdown timeout")
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
