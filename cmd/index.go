package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jayasuryajsk/lorikeet/internal/config"
	"github.com/jayasuryajsk/lorikeet/internal/embedding"
	"github.com/jayasuryajsk/lorikeet/internal/sessionlog"
	"github.com/jayasuryajsk/lorikeet/internal/semindex"
	"github.com/spf13/cobra"
)

var (
	indexProvider string
	indexQuery    string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build or query the semantic code index",
	Long: `Build a semantic search index over a workspace, or query an existing one.

With no --query, (re)indexes the given path (default: current directory),
chunking every text file, embedding the chunks, and persisting the result
under the project's config directory.

With --query, searches the existing index instead of rebuilding it.

Examples:
  term-llm index
  term-llm index ./internal
  term-llm index --query "how are tool calls dispatched"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexProvider, "provider", "p", "", "Override embedding provider (gemini, openai, jina, voyage, ollama)")
	indexCmd.Flags().StringVarP(&indexQuery, "query", "q", "", "Search the existing index instead of rebuilding it")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	cfg, err := loadConfigWithSetup()
	if err != nil {
		return err
	}

	embedder, err := embedding.NewEmbeddingProvider(cfg, indexProvider)
	if err != nil {
		return fmt.Errorf("resolve embedding provider: %w", err)
	}

	configDir, err := config.GetConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config directory: %w", err)
	}
	indexDir := filepath.Join(configDir, "semindex", sessionlog.ProjectHash(root))

	engine, err := semindex.NewEngine(embedder, 0, semindex.DefaultConfig(indexDir))
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	engine.SetRoot(root)

	if indexQuery != "" {
		results, err := engine.Search(cmd.Context(), indexQuery)
		if err != nil {
			return fmt.Errorf("search index: %w", err)
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no matches")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f  %s:%d-%d\n", r.Score, r.Chunk.Metadata.FilePath, r.Chunk.Metadata.StartLine, r.Chunk.Metadata.EndLine)
			fmt.Fprintln(cmd.OutOrStdout(), r.Chunk.Content)
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	}

	stats, err := engine.IndexDirectory(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("index %s: %w", root, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks across %d files into %s\n", stats.ChunkCount, stats.FileCount, indexDir)
	return nil
}
