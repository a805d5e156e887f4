package main

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/fanling-notes/fanling/internal/benchmark"
	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/store"
	"github.com/fanling-notes/fanling/internal/world"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "maint",
	Short:   "Measure command latency with concurrent clients",
	Long: `Create tasks in a scratch data root, then have several clients send
ListReady and Show commands at once, as pages connected to 'fanling serve'
would. Reports latency percentiles, throughput and memory use.

The configured data root is not touched.

Examples:
  fanling bench
  fanling bench --clients 32 --items 1000
  fanling bench --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := benchmark.DefaultConfig()
		bc.Clients, _ = cmd.Flags().GetInt("clients")
		bc.Items, _ = cmd.Flags().GetInt("items")
		bc.QueriesPerClient, _ = cmd.Flags().GetInt("queries")
		bc.BlockedPct, _ = cmd.Flags().GetFloat64("blocked")
		if err := bc.Validate(); err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "fanling-bench-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		ctx := cmd.Context()
		eng, err := engine.New(ctx, engine.Options{
			Root:    dir,
			Version: Version,
			Logger:  logger,
			World: world.Options{
				Store: store.Options{
					Path:  filepath.Join(dir, "repo"),
					Name:  "bench",
					Email: "bench@localhost",
				},
				IndexPath:  filepath.Join(dir, "index.db"),
				UniqPrefix: "bench",
			},
		})
		if err != nil {
			return err
		}
		defer eng.Close()

		if !jsonOutput {
			fmt.Printf("%s Running benchmark in %s\n\n", renderAccent("●"), dir)
		}
		result, err := benchmark.Run(ctx, eng, bc)
		if err != nil {
			return err
		}
		if jsonOutput {
			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		benchmark.PrintResult(os.Stdout, result)
		return nil
	},
}

func init() {
	d := benchmark.DefaultConfig()
	benchCmd.Flags().Int("clients", d.Clients, "number of concurrent clients")
	benchCmd.Flags().Int("items", d.Items, "number of tasks to create")
	benchCmd.Flags().Int("queries", d.QueriesPerClient, "commands sent by each client")
	benchCmd.Flags().Float64("blocked", d.BlockedPct, "fraction of tasks blocked by another (0.0-1.0)")
	rootCmd.AddCommand(benchCmd)
}
