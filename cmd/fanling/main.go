package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/config"
	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/logging"
	"github.com/fanling-notes/fanling/internal/protocol"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile    string
	jsonOutput bool

	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fanling",
	Short: "Notes and tasks kept in a git repository",
	Long: `fanling keeps notes and tasks as files in a git repository, indexes
them in a local SQLite database, and syncs with a remote by pull and push.

Configuration is read from fanling.yaml or fanling.toml in $FANLING_HOME or
the user config directory, from FANLING_* environment variables, and from
flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.New(cfgFile)
		flags := cmd.Root().PersistentFlags()
		if err := v.BindPFlag("root", flags.Lookup("root")); err != nil {
			return err
		}
		if err := v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
			return err
		}
		if err := config.Read(v); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(v); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
		setupStyles()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search $FANLING_HOME, then the user config dir)")
	rootCmd.PersistentFlags().String("root", "", "data root directory")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error or none")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print responses as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Working with items:"},
		&cobra.Group{ID: "sync", Title: "Syncing:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}

// openEngine starts an engine on the configured data root.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		return nil, err
	}
	opts.Version = Version
	eng, err := engine.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return eng, nil
}

// withEngine runs fn with a started engine and closes it afterwards.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()
	return fn(ctx, eng)
}

// execute runs one command envelope and prints the response. An error
// response is returned as an error.
func execute(ctx context.Context, eng *engine.Engine, body string) error {
	return finish(eng.Execute(ctx, body))
}

// run is execute for a request built in code.
func run(ctx context.Context, eng *engine.Engine, req *protocol.Request) error {
	return finish(eng.Run(ctx, req))
}

func finish(resp *protocol.Response) error {
	if err := printResponse(resp); err != nil {
		return err
	}
	if resp.IsError {
		msg, _ := resp.Tag(protocol.TagError)
		return fmt.Errorf("%s", msg)
	}
	return nil
}
