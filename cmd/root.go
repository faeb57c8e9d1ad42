package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/jayasuryajsk/lorikeet/internal/signal"
	"github.com/spf13/cobra"
)

var (
	rootProvider      string
	rootDebug         bool
	rootSystemMessage string
)

var rootCmd = &cobra.Command{
	Use:   "term-llm [request]",
	Short: "An agentic coding assistant driven by a remote LLM",
	Long: `term-llm drives a remote LLM through a streaming turn loop, letting it
read and edit files, run shell commands, and search your workspace until it
produces a final answer.

With no arguments it starts an interactive session, same as 'term-llm chat'.
With arguments it submits them as a single request and exits once the model
finishes its turn.

Examples:
  term-llm "find the bug in the payment retry logic"
  term-llm
  term-llm chat --resume abc123
  term-llm config edit`,
	Args: cobra.ArbitraryArgs,
	RunE: runRoot,
}

func init() {
	AddProviderFlag(rootCmd, &rootProvider)
	AddDebugFlag(rootCmd, &rootDebug)
	AddSystemMessageFlag(rootCmd, &rootSystemMessage)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runRoot is the binary's default entrypoint: an interactive chat session
// with no arguments, or a single one-shot request when args are given.
func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		chatProvider = rootProvider
		chatDebug = rootDebug
		chatSystemMessage = rootSystemMessage
		return runChat(cmd, args)
	}
	return runOneShot(cmd, args)
}

// runOneShot submits a single request through the same engine stack chat
// uses, streams the response, and returns once the turn completes.
func runOneShot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}
	if err := applyProviderOverrides(cfg, cfg.Chat.Provider, cfg.Chat.Model, rootProvider); err != nil {
		return err
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	systemMessage := rootSystemMessage
	if systemMessage == "" {
		systemMessage = cfg.Chat.Instructions
	}

	stack, err := buildEngineStack(cfg, root, systemMessage, "", allCanonicalToolNames())
	if err != nil {
		return err
	}
	defer stack.Close()

	renderer, _ := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))

	done := make(chan struct{})
	go printEvents(stack.Bus, renderer, cmd.OutOrStdout(), done)

	request := strings.Join(args, " ")
	if err := stack.Engine.Submit(ctx, request); err != nil {
		stack.Bus.Close()
		<-done
		return err
	}

	stack.Bus.Close()
	<-done
	return nil
}
