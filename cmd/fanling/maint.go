package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fanling-notes/fanling/internal/config"
	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/export"
	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/status"
	"github.com/fanling-notes/fanling/internal/world"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "maint",
	Short:   "Cross-check the store against the index",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if jsonOutput {
				return run(ctx, eng, &protocol.Request{Action: protocol.Action{Name: protocol.CheckData}})
			}
			var r *world.Report
			err := eng.With(func(w *world.World) error {
				var err error
				r, err = w.CheckData(ctx)
				return err
			})
			if err != nil {
				return err
			}
			printField("in store", fmt.Sprint(r.InStore))
			printField("in index", fmt.Sprint(r.InIndex))
			for _, id := range r.MissingFromIndex {
				fmt.Printf("%s %s is not indexed\n", renderWarn("⚠"), id)
			}
			for _, id := range r.MissingFromStore {
				fmt.Printf("%s %s is indexed but not stored\n", renderWarn("⚠"), id)
			}
			if !r.Consistent() {
				return fmt.Errorf("store and index differ; run 'fanling rebuild'")
			}
			fmt.Printf("%s Store and index agree\n", renderPass("✓"))
			return nil
		})
	},
}

var rebuildCmd = &cobra.Command{
	Use:     "rebuild",
	GroupID: "maint",
	Short:   "Rebuild the index from the store",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			return run(ctx, eng, &protocol.Request{Action: protocol.Action{Name: protocol.GetAll}})
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show the data root and the outcome of the last start",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := status.Load(afero.NewOsFs(), cfg.Status.Path)
		if err != nil {
			return err
		}
		printField("root", cfg.Root)
		printField("repository", cfg.Repo.Path)
		printField("remote", orNone(cfg.Repo.URL))
		printField("index", cfg.Index.Path)
		printField("prefix", orNone(cfg.Ident.Prefix))

		state := renderMuted(f.Status.String())
		switch f.Status {
		case status.Built:
			state = renderPass(f.Status.String())
		case status.Bad:
			state = renderFail(f.Status.String())
		}
		if !f.Updated.IsZero() {
			state += renderMuted(fmt.Sprintf(" at %s (%s)", f.Updated.Local().Format("2006-01-02 15:04"), f.Version))
		}
		printField("last start", state)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "maint",
	Short:   "Write every item as JSON lines",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out io.Writer = os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			var n int
			err := eng.With(func(w *world.World) error {
				var err error
				n, err = export.Export(ctx, w, out)
				return err
			})
			if err == nil && len(args) == 1 {
				fmt.Printf("%s Exported %d items to %s\n", renderPass("✓"), n, args[0])
			}
			return err
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import [file]",
	GroupID: "maint",
	Short:   "Create items from JSON lines, skipping idents already stored",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			var res *export.Result
			err := eng.With(func(w *world.World) error {
				var err error
				res, err = export.Import(ctx, w, in)
				return err
			})
			if res != nil {
				fmt.Printf("%s Created %d, skipped %d\n", renderPass("✓"), res.Created, res.Skipped)
				for _, e := range res.Errors {
					fmt.Printf("%s %s\n", renderWarn("⚠"), e)
				}
			}
			return err
		})
	},
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Record an ident prefix for this device and create the data root",
	Long: `Record an ident prefix for this device in the config file, unless one is
set, and start an engine once to create the repository and index.

The prefix keeps idents made on different devices apart. It is four
letters drawn from a random UUID.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = v.ConfigFileUsed()
		}
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return err
			}
			path = filepath.Join(dir, "fanling", config.FileName+".yaml")
		}
		prefix, err := config.EnsurePrefix(v, path)
		if err != nil {
			return err
		}
		cfg.Ident.Prefix = prefix
		printField("config", path)
		printField("prefix", prefix)

		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			fmt.Printf("%s Initialised %s\n", renderPass("✓"), cfg.Root)
			return nil
		})
	},
}

func orNone(s string) string {
	if s == "" {
		return renderMuted("(none)")
	}
	return s
}

func init() {
	rootCmd.AddCommand(checkCmd, rebuildCmd, statusCmd, exportCmd, importCmd, initCmd)
}
