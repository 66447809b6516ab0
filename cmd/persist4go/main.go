package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ammar0144/persist4go"
	"github.com/ammar0144/persist4go/internal/logging"
	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/redis"
	"github.com/ammar0144/persist4go/pkg/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultDBPath = "./persist4go.db"

// options holds the global flags
type options struct {
	driver     string
	dbPath     string
	dsn        string
	configPath string
	redisAddr  string
	logFile    string
	verbosity  int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "persist4go",
		Short: "persist4go - object persistence toolkit",
		Long: `persist4go maps the demonstration entities onto a SQLite or MySQL database,
manages their schema and runs object queries against them.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.driver, "driver", db.DriverSQLite, "Database driver: sqlite or mysql")
	flags.StringVarP(&opts.dbPath, "db", "d", defaultDBPath, "SQLite database path")
	flags.StringVar(&opts.dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(localhost:3306)/jpa (or set PERSIST4GO_DSN)")
	flags.StringVarP(&opts.configPath, "config", "c", "", "JSON unit configuration file")
	flags.StringVar(&opts.redisAddr, "redis", "", "Redis address for the second-level cache (or set PERSIST4GO_REDIS_ADDR)")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write logs to this rotating file")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	var closer io.Closer
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		closer = setupLogging(opts)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if closer != nil {
			closer.Close()
		}
	}

	rootCmd.AddCommand(
		newSchemaCmd(opts),
		newDemoCmd(opts),
		newQueryCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "persist4go %s (commit: %s, built: %s)\n", version, commit, date)
			},
		},
	)
	return rootCmd
}

func setupLogging(opts *options) io.Closer {
	level := "warn"
	switch {
	case opts.verbosity >= 2:
		level = "trace"
	case opts.verbosity == 1:
		level = "debug"
	}
	return logging.Apply(logging.Options{Level: level, File: opts.logFile})
}

// unitConfig merges the config file, flags and environment, in that order
// of increasing precedence
func unitConfig(opts *options) (persist4go.Config, error) {
	cfg := persist4go.DefaultConfig(defaultDBPath)
	if opts.configPath != "" {
		loaded, err := persist4go.LoadConfig(opts.configPath)
		if err != nil {
			return cfg, err
		}
		if loaded.Database == nil {
			loaded.Database = cfg.Database
		}
		cfg = loaded
	}

	dsn := opts.dsn
	if dsn == "" {
		dsn = os.Getenv("PERSIST4GO_DSN")
	}
	switch {
	case opts.driver == db.DriverMySQL || dsn != "":
		if dsn == "" {
			return cfg, fmt.Errorf("--dsn flag or PERSIST4GO_DSN environment variable is required for mysql")
		}
		dbCfg, err := mysqlConfig(dsn)
		if err != nil {
			return cfg, err
		}
		cfg.Database = dbCfg
	case opts.driver == db.DriverSQLite:
		if opts.dbPath != defaultDBPath || cfg.Database.Driver != db.DriverSQLite {
			cfg.Database = db.NewSQLiteConfig(opts.dbPath)
		}
	default:
		return cfg, fmt.Errorf("unknown driver %q", opts.driver)
	}

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("PERSIST4GO_REDIS_ADDR")
	}
	if addr != "" {
		rc, err := redis.ConfigFromAddr(addr)
		if err != nil {
			return cfg, err
		}
		cfg.Redis = rc
	}
	return cfg, nil
}

// mysqlConfig turns a go-sql-driver DSN into a manager configuration
func mysqlConfig(dsn string) (*db.Config, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	host, portStr, err := net.SplitHostPort(parsed.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql address %q: %w", parsed.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql port %q: %w", portStr, err)
	}
	mgr := db.NewMySQLConfig(host, parsed.DBName, parsed.User, parsed.Passwd)
	mgr.Port = port
	return mgr, nil
}

// open connects with the given schema action
func open(ctx context.Context, opts *options, action session.SchemaAction) (*persist4go.Factory, error) {
	cfg, err := unitConfig(opts)
	if err != nil {
		return nil, err
	}
	if action != "" {
		cfg.Unit.SchemaAction = action
	}
	log.Debug().Str("driver", cfg.Database.DriverName()).Bool("redis", cfg.Redis != nil).Msg("Opening persistence unit")
	return persist4go.Open(ctx, cfg, model.All()...)
}
