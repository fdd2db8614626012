package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rezakhademix/zgraph"
	"github.com/rezakhademix/zgraph/internal/config"
)

var version = "0.1.0"

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	cfgFile  string
	envFiles []string
	noColor  bool

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:     "zgraph",
		Short:   "Inspect entity schemas and fetch object graphs",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			if a.noColor {
				color.NoColor = true
			}
			if err := loadEnvFiles(a.envFiles, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})).
				With("run", uuid.NewString())
			if cfg.File != "" {
				a.logger.Debug("using config file", "path", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./"+config.DefaultFile+")")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files read before the configuration")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.String("driver", "", "database/sql driver: sqlite3, sqlite, mysql, postgres or pgx")
	pf.String("dsn", "", "data source name")
	pf.String("dialect", "", "SQL dialect (default: derived from the driver)")
	pf.String("schema", "", "schema file")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.Int("stmt-cache-size", 0, "prepared statement cache capacity, 0 disables the cache")
	pf.Int("fetch-concurrency", 0, "association loads run at once per fetch level")
	pf.Int("pool-max-open", 0, "maximum open connections")
	pf.Int("pool-max-idle", 0, "maximum idle connections")
	pf.Duration("pool-max-lifetime", 0, "maximum connection lifetime")
	pf.Duration("pool-max-idle-time", 0, "maximum connection idle time")

	_ = root.RegisterFlagCompletionFunc("driver", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite3", "sqlite", "mysql", "postgres", "pgx"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newSchemaCmd(a), newRenderCmd(a), newFetchCmd(a))
	return root
}

// loadEnvFiles reads dotenv files into the process environment without
// overriding variables that are already set. Missing files are only an
// error when they were named explicitly.
func loadEnvFiles(files []string, explicit bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) && !explicit {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

func (a *app) loadSchema() (*zgraph.Schema, error) {
	return zgraph.LoadSchemaFile(a.cfg.Schema)
}

// connect opens the configured database and returns a client over it. The
// returned function closes the statement cache and the pool.
func (a *app) connect(ctx context.Context, schema *zgraph.Schema) (*zgraph.Client, func(), error) {
	opts, cache, err := a.cfg.ClientOptions(a.logger)
	if err != nil {
		return nil, nil, err
	}
	db, err := zgraph.Open(ctx, a.cfg.Driver, a.cfg.DSN, a.cfg.PoolConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", a.cfg.Driver, err)
	}
	a.logger.Debug("connected", "driver", a.cfg.Driver)

	closeAll := func() {
		if cache != nil {
			_ = cache.Close()
		}
		_ = db.Close()
	}
	return zgraph.NewClient(schema, zgraph.NewDBProvider(db), opts...), closeAll, nil
}
