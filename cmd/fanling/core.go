package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fanling-notes/fanling/internal/engine"
	"github.com/fanling-notes/fanling/internal/item"
	"github.com/fanling-notes/fanling/internal/protocol"
	"github.com/fanling-notes/fanling/internal/world"
)

var execCmd = &cobra.Command{
	Use:     "exec <json>",
	GroupID: "core",
	Short:   "Run one command envelope",
	Long: `Run one command envelope and print the response.

Examples:
  fanling exec '{"a":"ListReady"}'
  fanling exec '{"i":"buy-milk-a3","a":"Close"}'
  fanling exec --json '{"t":"Task","a":{"Create":[{},{"name":"Buy milk"}]}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			return execute(ctx, eng, args[0])
		})
	},
}

var replCmd = &cobra.Command{
	Use:     "repl",
	GroupID: "core",
	Short:   "Read and run commands interactively",
	Long: `Read command envelopes, one per line, and run them.

A line may also be an action name, optionally followed by an ident:
  ListReady
  Show buy-milk-a3

The session ends at end of input or after a Shutdown command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return interactive(ctx, eng)
			}
			return batch(ctx, eng, os.Stdin)
		})
	},
}

// commandLine turns a REPL line into an envelope.
func commandLine(line string) (string, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return line, nil
	}
	fields := strings.Fields(line)
	req := &protocol.Request{}
	switch len(fields) {
	case 1:
	case 2:
		req.Ident = fields[1]
	default:
		return "", fmt.Errorf("expected an envelope or an action name and ident")
	}
	req.Action = protocol.Action{Name: protocol.Name(fields[0])}
	if !req.Action.Name.Valid() {
		return "", fmt.Errorf("%q: %w", fields[0], protocol.ErrUnknownAction)
	}
	data, err := protocol.Encode(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// runLine runs one line and reports whether the engine has shut down.
func runLine(ctx context.Context, eng *engine.Engine, line string) bool {
	body, err := commandLine(line)
	if err != nil {
		fmt.Fprintln(os.Stderr, renderFail(err.Error()))
		return false
	}
	resp := eng.Execute(ctx, body)
	if err := printResponse(resp); err != nil {
		fmt.Fprintln(os.Stderr, renderFail(err.Error()))
	}
	if msg, ok := resp.Tag(protocol.TagError); ok && resp.IsError {
		fmt.Fprintln(os.Stderr, renderFail(msg))
	}
	return resp.Shutdown
}

func interactive(ctx context.Context, eng *engine.Engine) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for _, n := range protocol.Names() {
			if strings.HasPrefix(string(n), prefix) {
				out = append(out, string(n))
			}
		}
		return out
	})

	history := filepath.Join(cfg.Root, "history")
	if f, err := os.Open(history); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			logger.Warn("failed to save history", zap.Error(err))
			return
		}
		_, _ = line.WriteHistory(f)
		_ = f.Close()
	}()

	for ctx.Err() == nil {
		text, err := line.Prompt("fanling> ")
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		line.AppendHistory(text)
		if runLine(ctx, eng, text) {
			return nil
		}
	}
	return ctx.Err()
}

func batch(ctx context.Context, eng *engine.Engine, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() && ctx.Err() == nil {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		if runLine(ctx, eng, sc.Text()) {
			return nil
		}
	}
	return sc.Err()
}

var showCmd = &cobra.Command{
	Use:     "show <ident>",
	GroupID: "core",
	Short:   "Show one item",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if jsonOutput {
				return run(ctx, eng, &protocol.Request{Ident: args[0], Action: protocol.Action{Name: protocol.Show}})
			}
			return eng.With(func(w *world.World) error {
				if raw {
					data, err := w.RawItem(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Print(string(data))
					return nil
				}
				return showItem(ctx, w, args[0])
			})
		})
	},
}

func showItem(ctx context.Context, w *world.World, ident string) error {
	it, err := w.GetItem(ctx, ident)
	if err != nil {
		return err
	}
	state := renderPass("open")
	if !it.IsOpen() {
		state = renderMuted("closed")
	} else if ready, err := it.IsReady(ctx, w); err == nil && ready {
		state = renderPass("ready")
	}
	fmt.Printf("%s  %s  %s\n\n", renderAccent(it.Description()), renderMuted(it.Ident), state)

	base := it.Base.Fields()
	printField("type", base.Type)
	if base.Parent != "" {
		printField("parent", base.Parent)
	}
	vals := it.Data.Values()
	for _, k := range sortedKeys(vals) {
		if k == "name" || k == "text" || vals[k] == "" {
			continue
		}
		printField(k, vals[k])
	}
	if text := vals["text"]; text != "" {
		fmt.Printf("\n%s\n", text)
	}
	return nil
}

var listCmd = &cobra.Command{
	Use:       "list [ready|open|all]",
	GroupID:   "core",
	Short:     "List items",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"ready", "open", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "ready"
		if len(args) == 1 {
			which = args[0]
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			if jsonOutput {
				name := map[string]protocol.Name{"ready": protocol.ListReady, "open": protocol.ListOpen, "all": protocol.ListAll}[which]
				return run(ctx, eng, &protocol.Request{Action: protocol.Action{Name: name}})
			}
			return eng.With(func(w *world.World) error {
				var l *item.EntryList
				var err error
				switch which {
				case "ready":
					l, err = w.ReadyList(ctx)
				default:
					l, err = w.HierList(ctx, which == "open")
				}
				if err != nil {
					return err
				}
				fmt.Println(entryTable(l))
				fmt.Println(renderMuted(fmt.Sprintf("%d items", l.Len())))
				return nil
			})
		})
	},
}

func entryTable(l *item.EntryList) string {
	rows := make([][]string, 0, l.Len())
	for _, e := range l.Entries {
		name := strings.Repeat("  ", e.Level) + e.Description
		if e.IsParent {
			name += " ▸"
		}
		rows = append(rows, []string{e.Ident, name})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("IDENT", "NAME").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return accentStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Rows(rows...).
		Render()
}

var newCmd = &cobra.Command{
	Use:     "new <type>",
	GroupID: "core",
	Short:   "Create an item",
	Long: `Create a Simple item or a Task.

Without --name, and on a terminal, a form asks for the fields.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"Simple", "Task"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := item.ParseKind(args[0])
		if err != nil {
			return err
		}
		vals := map[string]string{}
		for _, f := range []string{"name", "text", "priority", "context"} {
			if s, _ := cmd.Flags().GetString(f); s != "" {
				vals[f] = s
			}
		}
		parent, _ := cmd.Flags().GetString("parent")

		if vals["name"] == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("--name is required when stdin is not a terminal")
			}
			if err := itemForm(kind, vals); err != nil {
				return err
			}
		}

		base := map[string]any{}
		if parent != "" {
			base["parent"] = parent
		}
		req := &protocol.Request{
			Type:   kind.String(),
			Action: protocol.Action{Name: protocol.Create, Base: base, Values: vals},
		}
		return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
			resp := eng.Run(ctx, req)
			if jsonOutput || resp.IsError {
				if err := printResponse(resp); err != nil {
					return err
				}
			}
			if resp.IsError {
				msg, _ := resp.Tag(protocol.TagError)
				return errors.New(msg)
			}
			if !jsonOutput {
				fmt.Printf("%s created %s\n", renderPass("✓"), renderAccent(resp.Diagnostics["ident"]))
			}
			return nil
		})
	},
}

// itemForm asks for the fields of a new item.
func itemForm(kind item.Kind, vals map[string]string) error {
	name, text, priority := vals["name"], vals["text"], vals["priority"]
	fields := []huh.Field{
		huh.NewInput().Title("Name").Value(&name).Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("name must be non-blank")
			}
			return nil
		}),
		huh.NewText().Title("Text").Value(&text),
	}
	if kind == item.KindTask {
		if priority == "" {
			priority = fmt.Sprint(item.DefaultPriority)
		}
		fields = append(fields, huh.NewInput().Title("Priority").Value(&priority))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	vals["name"], vals["text"] = name, text
	if kind == item.KindTask {
		vals["priority"] = priority
	}
	return nil
}

func init() {
	showCmd.Flags().Bool("raw", false, "print the stored file")
	newCmd.Flags().String("name", "", "item name")
	newCmd.Flags().String("text", "", "item text (markdown)")
	newCmd.Flags().String("priority", "", "task priority")
	newCmd.Flags().String("context", "", "task context ident")
	newCmd.Flags().String("parent", "", "parent ident")

	rootCmd.AddCommand(execCmd, replCmd, showCmd, listCmd, newCmd)
}
