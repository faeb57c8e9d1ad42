package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/jayasuryajsk/lorikeet/internal/eventbus"
	"github.com/jayasuryajsk/lorikeet/internal/signal"
	"github.com/spf13/cobra"
)

var (
	chatDebug         bool
	chatProvider      string
	chatSystemMessage string
	chatResume        string
	chatYolo          bool
	chatTools         string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive turn-engine chat session with the LLM.

Examples:
  term-llm chat
  term-llm chat --provider zen
  term-llm chat --resume abc123           # resume session abc123 (an id is required)

Type a message and press Enter to send it. Ctrl+D or /quit exits.`,
	RunE: runChat,
}

func init() {
	AddProviderFlag(chatCmd, &chatProvider)
	AddDebugFlag(chatCmd, &chatDebug)
	AddSystemMessageFlag(chatCmd, &chatSystemMessage)
	chatCmd.Flags().StringVar(&chatTools, "tools", "", "Restrict enabled tools (comma-separated tool names; empty = all)")
	chatCmd.Flags().BoolVar(&chatYolo, "yolo", false, "Reserved for future auto-approval behavior; currently a no-op")
	chatCmd.Flags().StringVarP(&chatResume, "resume", "r", "", "Resume session (a session id, required)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, cfg.Chat.Provider, cfg.Chat.Model, chatProvider); err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	systemMessage := chatSystemMessage
	if systemMessage == "" {
		systemMessage = cfg.Chat.Instructions
	}

	var allowTools []string
	if chatTools != "" {
		allowTools = strings.Split(chatTools, ",")
		for i := range allowTools {
			allowTools[i] = strings.TrimSpace(allowTools[i])
		}
	} else {
		allowTools = allCanonicalToolNames()
	}

	stack, err := buildEngineStack(cfg, root, systemMessage, strings.TrimSpace(chatResume), allowTools)
	if err != nil {
		return err
	}
	defer stack.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Session: %s\n", stack.Log.SessionID())

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	promptStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	done := make(chan struct{})
	go printEvents(stack.Bus, renderer, cmd.OutOrStdout(), done)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(cmd.OutOrStdout(), promptStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if err := stack.Engine.Submit(ctx, line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	stack.Bus.Close()
	<-done
	return nil
}

// printEvents drains bus until it is closed, rendering assistant content
// through glamour and tool activity as plain status lines. It runs
// concurrently with Engine.Submit, which blocks on bus sends once its
// buffer fills.
func printEvents(bus *eventbus.Bus, renderer *glamour.TermRenderer, out interface{ Write([]byte) (int, error) }, done chan<- struct{}) {
	defer close(done)
	var pending strings.Builder
	flush := func() {
		if pending.Len() == 0 {
			return
		}
		text := pending.String()
		pending.Reset()
		if renderer != nil {
			if rendered, err := renderer.Render(text); err == nil {
				fmt.Fprint(out, rendered)
				return
			}
		}
		fmt.Fprintln(out, text)
	}

	for ev := range bus.Events() {
		switch ev.Kind {
		case eventbus.KindAgentChunk:
			pending.WriteString(ev.AgentChunk)
		case eventbus.KindAgentDone:
			flush()
		case eventbus.KindAgentError:
			flush()
			fmt.Fprintf(out, "error: %s\n", ev.AgentError)
		case eventbus.KindToolStart:
			if ev.ToolStart != nil {
				fmt.Fprintf(out, "\n[tool] %s %s\n", ev.ToolStart.Tool, ev.ToolStart.Target)
			}
		case eventbus.KindToolComplete:
			if ev.ToolComplete != nil {
				status := "ok"
				if !ev.ToolComplete.Success {
					status = "failed"
				}
				fmt.Fprintf(out, "[tool] %s: %s\n", ev.ToolComplete.CallID, status)
			}
		}
	}
}
