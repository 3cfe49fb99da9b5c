package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/roach88/recruitflow/internal/atssync"
	"github.com/roach88/recruitflow/internal/audit"
	"github.com/roach88/recruitflow/internal/config"
	"github.com/roach88/recruitflow/internal/funnel"
	"github.com/roach88/recruitflow/internal/outbound"
	"github.com/roach88/recruitflow/internal/policy"
	"github.com/roach88/recruitflow/internal/publish"
	"github.com/roach88/recruitflow/internal/store"
)

// Error codes for CLI output.
const (
	ErrCodePolicy = "E_POLICY"
	ErrCodeChain  = "E_CHAIN"
)

// loadConfig reads the config file named by --config and applies
// environment overrides. dbPath, when set, switches storage to SQLite at
// that path.
func loadConfig(opts *RootOptions, dbPath string) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbPath != "" {
		cfg.Storage.Driver = config.StorageSQLite
		cfg.Storage.Path = dbPath
	}
	return cfg, nil
}

// newLogger builds the process logger: text on stderr, debug when verbose,
// otherwise the configured level.
func newLogger(opts *RootOptions, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			level = slog.LevelInfo
		}
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openLog opens the configured storage and the audit log over it. The
// returned close function releases the storage.
func openLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*audit.Log, *store.Store, func() error, error) {
	var (
		storage audit.Storage
		st      *store.Store
		closer  = func() error { return nil }
	)
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		if _, err := os.Stat(cfg.Storage.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to access database", err)
		}
		opened, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		st, storage, closer = opened, opened, opened.Close
	default:
		storage = audit.NewMemoryStorage()
	}

	log, err := audit.Open(ctx, storage, cfg.SigningSecret,
		audit.WithPollInterval(cfg.Stream.PollInterval),
		audit.WithLogger(logger),
	)
	if err != nil {
		closer()
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open audit log", err)
	}
	return log, st, closer, nil
}

// loadPolicy reads the rule set at path. A missing file falls back to the
// defaults with a warning.
func loadPolicy(path string, logger *slog.Logger) (policy.RuleSet, error) {
	rules, found, err := policy.Load(path)
	if err != nil {
		return policy.RuleSet{}, WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	if !found {
		logger.Warn("policy file not found, using defaults", "path", path)
	}
	return rules, nil
}

// Stack is the wired service behind serve and send.
type Stack struct {
	Config     *config.Config
	Log        *audit.Log
	Engine     *funnel.Engine
	Dispatcher *outbound.Dispatcher
	Publisher  *publish.Publisher
	Evaluator  *policy.Evaluator

	close func() error
}

// OpenStack builds the full stack from cfg and restores funnel state and
// question counts from the audit log.
//
// Demo mode uses in-process mock connectors; live mode talks HTTP to the
// configured ATS and channel connector.
func OpenStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	log, st, closer, err := openLog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rules, err := loadPolicy(cfg.Policy.Path, logger)
	if err != nil {
		closer()
		return nil, err
	}
	evaluator := policy.NewEvaluator(rules)

	var (
		client atssync.Client
		sender outbound.Sender
	)
	switch cfg.Mode {
	case config.ModeLive:
		hc := &http.Client{Timeout: cfg.ATS.Timeout}
		client = atssync.NewHTTPClient(cfg.ATS.BaseURL, hc)
		sender = outbound.NewHTTPSender(cfg.Channel.BaseURL, hc)
	default:
		client = atssync.MockClient{}
		sender = outbound.MockSender{}
	}

	atsOpts := []atssync.Option{
		atssync.WithMaxAttempts(cfg.ATS.MaxAttempts),
		atssync.WithBackoff(cfg.ATS.Backoff),
		atssync.WithTimeout(cfg.ATS.Timeout),
		atssync.WithLogger(logger),
	}
	if st != nil {
		atsOpts = append(atsOpts, atssync.WithLedger(st))
	}
	adapter := atssync.New(client, log, atsOpts...)

	funnelOpts := []funnel.Option{
		funnel.WithRequireHold(cfg.Funnel.RequireHold),
		funnel.WithLogger(logger),
	}
	if day, ok := cfg.Funnel.SlotAnchor(); ok {
		funnelOpts = append(funnelOpts, funnel.WithSlots(funnel.NewHashSlots(day)))
	}
	engine := funnel.New(log, adapter, funnelOpts...)
	if _, err := engine.Restore(ctx); err != nil {
		closer()
		return nil, WrapExitError(ExitCommandError, "failed to restore funnel state", err)
	}

	dispatcher := outbound.NewDispatcher(evaluator, sender, log,
		outbound.WithPermissive(cfg.Policy.Permissive),
		outbound.WithLogger(logger),
	)
	if err := dispatcher.Restore(ctx); err != nil {
		closer()
		return nil, WrapExitError(ExitCommandError, "failed to restore question counts", err)
	}

	publisher := publish.New(log,
		publish.WithHeartbeat(cfg.Stream.Heartbeat),
		publish.WithLogger(logger),
	)

	logger.Info("stack ready",
		"mode", cfg.Mode,
		"storage", cfg.Storage.Driver,
		"channels", strings.Join(rules.AllowedChannels, ","),
		"max_questions", rules.MaxQuestions,
		"permissive", cfg.Policy.Permissive,
	)

	return &Stack{
		Config:     cfg,
		Log:        log,
		Engine:     engine,
		Dispatcher: dispatcher,
		Publisher:  publisher,
		Evaluator:  evaluator,
		close:      closer,
	}, nil
}

// Close releases the storage.
func (s *Stack) Close() error {
	if err := s.close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

// openExistingLog opens the audit log of an existing SQLite database for
// the read-side commands. dbPath overrides the configured storage.
func openExistingLog(ctx context.Context, opts *RootOptions, dbPath string) (*audit.Log, *config.Config, func() error, error) {
	cfg, err := loadConfig(opts, dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Storage.Driver != config.StorageSQLite {
		return nil, nil, nil, NewExitError(ExitCommandError, "no persistent storage configured (use --db)")
	}
	if _, err := os.Stat(cfg.Storage.Path); errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", cfg.Storage.Path))
	}
	log, _, closer, err := openLog(ctx, cfg, newLogger(opts, cfg))
	if err != nil {
		return nil, nil, nil, err
	}
	return log, cfg, closer, nil
}
