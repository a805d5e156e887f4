package main

import (
	"fmt"
	"html"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/fanling-notes/fanling/internal/protocol"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle    = lipgloss.NewStyle().Bold(true).Width(16)
)

// setupStyles turns colour off for pipes and when NO_COLOR is set.
func setupStyles() {
	if termenv.EnvNoColor() || !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func renderAccent(s string) string { return accentStyle.Render(s) }
func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

var (
	blockTag  = regexp.MustCompile(`(?i)</?(p|div|li|ul|ol|h[1-6]|dl|dt|dd|tr|br|article|form)\b[^>]*>`)
	anyTag    = regexp.MustCompile(`<[^>]*>`)
	blankRuns = regexp.MustCompile(`\n\s*\n+`)
)

// plainText reduces an HTML fragment to readable lines.
func plainText(fragment string) string {
	s := blockTag.ReplaceAllString(fragment, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRuns.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// printResponse writes a response as JSON or as readable text. The error
// tag is left to the caller.
func printResponse(resp *protocol.Response) error {
	if jsonOutput {
		data, err := resp.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	for _, tag := range resp.Tags {
		if tag.Name == protocol.TagError || tag.Value == "" {
			continue
		}
		text := plainText(tag.Value)
		if text == "" {
			continue
		}
		switch tag.Name {
		case protocol.TagAlways:
			fmt.Println(renderMuted("[" + text + "]"))
		case protocol.TagContent, protocol.TagMessage:
			fmt.Println(text)
		default:
			fmt.Printf("%s %s\n", renderWarn(tag.Name+":"), text)
		}
	}
	if len(resp.Diagnostics) > 0 && logger.Core().Enabled(zapcore.DebugLevel) {
		for _, k := range sortedKeys(resp.Diagnostics) {
			fmt.Println(renderMuted(k + "=" + resp.Diagnostics[k]))
		}
	}
	return nil
}

// printField prints one aligned key and value.
func printField(key, value string) {
	fmt.Printf("%s %s\n", keyStyle.Render(key), value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
