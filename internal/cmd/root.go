// Package cmd implements the docgraph command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/fang"
	"github.com/rand/docgraph/internal/config"
	"github.com/rand/docgraph/internal/diagnostics"
	"github.com/rand/docgraph/internal/journal"
	"github.com/rand/docgraph/internal/lifecycle"
	"github.com/rand/docgraph/internal/logging"
	"github.com/rand/docgraph/internal/metrics"
	"github.com/rand/docgraph/internal/triplestore"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// Execute runs the docgraph command line.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, NewRootCmd(), fang.WithVersion(Version))
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docgraph",
		Short: "Manage hierarchical graph documents in a triple store",
		Long: `docgraph validates, tags and stores Root/Branch/Leaf documents as triples,
replacing them with backup and rollback, and scans the store for drift.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Config file (default: ./docgraph.yaml)")
	root.PersistentFlags().String("env-file", ".env", "Dotenv file read before DOCGRAPH_* overrides")
	root.PersistentFlags().StringP("scope", "s", "", "Named graph to operate on (overrides config)")
	root.PersistentFlags().BoolP("debug", "d", false, "Log at debug level")

	root.AddCommand(
		newDocCmd(),
		newScanCmd(),
		newRepairCmd(),
		newJournalCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig applies the global flags on top of the configuration sources.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if scope, _ := cmd.Flags().GetString("scope"); scope != "" {
		cfg.Scope = scope
	}
	return cfg, nil
}

// runtime holds the components a command works with.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   triplestore.Store
	journal journal.Journal
	metrics *metrics.Metrics
	orch    *lifecycle.Orchestrator
	scanner *diagnostics.Scanner

	closers []io.Closer
}

// openRuntime loads configuration and opens the store and journal it names.
// The returned cleanup writes the metrics textfile and closes everything.
func openRuntime(cmd *cobra.Command) (*runtime, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	debug, _ := cmd.Flags().GetBool("debug")

	logger, logCloser, err := logging.New(cfg.Log, cmd.ErrOrStderr(), debug)
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.New()}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	rt.store = store

	j, err := openJournal(cfg, store)
	if err != nil {
		store.Close()
		logCloser.Close()
		return nil, nil, err
	}
	rt.journal = j
	if j != nil {
		rt.closers = append(rt.closers, j)
	}
	rt.closers = append(rt.closers, store, logCloser)

	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithObserver(rt.metrics),
	}
	if j != nil {
		opts = append(opts, lifecycle.WithJournal(j))
	}
	rt.orch = lifecycle.New(store, opts...)
	rt.scanner = diagnostics.New(store,
		diagnostics.WithLogger(logger),
		diagnostics.WithObserver(rt.metrics),
	)

	cleanup := func() {
		if cfg.Metrics.Textfile != "" {
			if err := rt.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.Warn("metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
			}
		}
		for _, c := range rt.closers {
			if err := c.Close(); err != nil {
				logger.Warn("close", "error", err)
			}
		}
	}
	return rt, cleanup, nil
}

func openStore(ctx context.Context, cfg *config.Config) (triplestore.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return triplestore.NewMemoryStore(), nil
	case config.BackendSQLite:
		store, err := triplestore.NewSQLiteStore(triplestore.SQLiteOptions{
			Path:              cfg.Store.SQLite.Path,
			CreateIfNotExists: true,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendNeo4j:
		store, err := triplestore.NewNeo4jStore(ctx, triplestore.Neo4jConfig{
			URI:      cfg.Store.Neo4j.URI,
			Username: cfg.Store.Neo4j.Username,
			Password: cfg.Store.Neo4j.Password,
			Database: cfg.Store.Neo4j.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("open neo4j store: %w", err)
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// openJournal returns nil when the journal is disabled.
func openJournal(cfg *config.Config, store triplestore.Store) (journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	if cfg.Journal.Path != "" {
		j, err := journal.OpenSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	}
	if s, ok := store.(*triplestore.SQLiteStore); ok {
		j, err := journal.NewSQLiteJournal(s.DB())
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	}
	return journal.NewMemoryJournal(), nil
}
