package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jayasuryajsk/lorikeet/internal/config"
	"github.com/jayasuryajsk/lorikeet/internal/sessionlog"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List turn-engine session logs for the current workspace",
	Long: `List the append-only session log files the turn engine writes under
the project's config directory (one .jsonl file per session, replayable
with 'chat --resume <id>').

Examples:
  term-llm logs
  term-llm logs show <id>`,
	RunE: runLogsList,
}

var logsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Replay a session log and print a transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsShow,
}

func init() {
	logsCmd.AddCommand(logsShowCmd)
	rootCmd.AddCommand(logsCmd)
}

func runLogsList(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config directory: %w", err)
	}
	dir, err := sessionlog.SessionsDir(configDir, root)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "no sessions yet")
			return nil
		}
		return fmt.Errorf("read sessions directory: %w", err)
	}

	type row struct {
		id      string
		modTime int64
		summary string
	}
	var rows []row
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".jsonl")
		info, err := entry.Info()
		if err != nil {
			continue
		}
		events, err := sessionlog.LoadEvents(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		rows = append(rows, row{id: id, modTime: info.ModTime().Unix(), summary: firstUserMessage(events)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].modTime > rows[j].modTime })

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions yet")
		return nil
	}
	for _, r := range rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r.id, r.summary)
	}
	return nil
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config directory: %w", err)
	}
	dir, err := sessionlog.SessionsDir(configDir, root)
	if err != nil {
		return err
	}

	events, err := sessionlog.LoadEvents(filepath.Join(dir, args[0]+".jsonl"))
	if err != nil {
		return fmt.Errorf("load session %s: %w", args[0], err)
	}

	for _, ev := range events {
		switch ev.Type {
		case sessionlog.EventMessage:
			if ev.Message.Content == "" {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n\n", ev.Message.Role, ev.Message.Content)
		case sessionlog.EventTool:
			fmt.Fprintf(cmd.OutOrStdout(), "[tool:%s] %s (%s)\n\n", ev.Tool.Tool, ev.Tool.Target, ev.Tool.Status)
		}
	}
	return nil
}

// firstUserMessage returns a one-line summary of a session: the first
// user message, truncated, or "(empty)" if there isn't one.
func firstUserMessage(events []sessionlog.Event) string {
	for _, ev := range events {
		if ev.Type == sessionlog.EventMessage && ev.Message.Role == sessionlog.RoleUser && ev.Message.Content != "" {
			line := strings.SplitN(ev.Message.Content, "\n", 2)[0]
			if len(line) > 80 {
				line = line[:80] + "..."
			}
			return line
		}
	}
	return "(empty)"
}
