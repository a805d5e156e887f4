package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fanling-notes/fanling/internal/daemon"
	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/server"
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Fetch and merge changes from the remote",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			start := time.Now()
			if err := eng.Pull(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Pulled in %v\n", renderPass("✓"), time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Push local commits to the remote",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if !eng.NeedsPush() && !force {
				fmt.Println(renderMuted("Nothing to push"))
				return nil
			}
			if err := eng.Push(ctx, force); err != nil {
				return err
			}
			fmt.Printf("%s Pushed\n", renderPass("✓"))
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull, then push any local commits",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			start := time.Now()
			if err := daemon.Sync(ctx, eng); err != nil {
				return err
			}
			fmt.Printf("%s Synced in %v\n", renderPass("✓"), time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Serve commands over a websocket and sync in the background",
	Long: `Start the websocket endpoint and the sync daemon.

Each text message sent to ws://<addr>/ws is a command envelope; the reply is
the JSON response. /health reports the push state and client count.

The server stops on Ctrl+C, SIGTERM, or a Shutdown command, pushing any
local commits first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		noDaemon, _ := cmd.Flags().GetBool("no-daemon")

		ctx := cmd.Context()
		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}

		srv := server.New(eng, cfg.ServerConfig(logger))
		if err := srv.Start(); err != nil {
			_ = eng.Close()
			return err
		}

		var d *daemon.Daemon
		if !noDaemon {
			d = daemon.New(eng, cfg.DaemonConfig(logger))
			if err := d.Start(ctx); err != nil {
				logger.Warn("sync daemon not started", zap.Error(err))
				d = nil
			} else {
				go func() {
					select {
					case <-ctx.Done():
					case <-d.Halted():
						fmt.Fprintf(os.Stderr, "Background sync stopped: %v\n", d.Stats().LastErr)
					}
				}()
			}
		}

		fmt.Printf("%s Serving on ws://%s/ws\n", renderAccent("●"), srv.Addr())
		fmt.Printf("   Health check: http://%s/health\n", srv.Addr())

		select {
		case <-ctx.Done():
		case <-srv.Done():
		}

		fmt.Println("Shutting down...")
		if d != nil {
			d.Stop()
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			logger.Warn("server stop failed", zap.Error(err))
		}
		return eng.HandleEvent(stopCtx, engine.EventStop)
	},
}

func init() {
	pushCmd.Flags().Bool("force", false, "force-push over the remote branch")
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().Bool("no-daemon", false, "do not pull and push in the background")

	rootCmd.AddCommand(pullCmd, pushCmd, syncCmd, serveCmd)
}
