package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/adaptive-retrieval/internal/adapters/mcp"
	"github.com/kirillkom/adaptive-retrieval/internal/bootstrap"
	"github.com/kirillkom/adaptive-retrieval/internal/config"
	"github.com/kirillkom/adaptive-retrieval/internal/core/confidence"
	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
	"github.com/kirillkom/adaptive-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/adaptive-retrieval/internal/observability/logging"
)

type rootOptions struct {
	logLevel   string
	tuningFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ctxctl",
		Short: "Operate the adaptive retrieval service",
		Long: `ctxctl scores queries, assembles course context, manages course
materials and triggers reindexing against the same configuration the API uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")
	root.PersistentFlags().StringVar(&opts.tuningFile, "tuning", "", "retrieval tuning YAML (overrides RETRIEVAL_CONFIG_FILE)")

	root.AddCommand(
		newScoreCmd(opts),
		newContextCmd(opts),
		newMaterialCmd(opts),
		newReindexCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

func (o *rootOptions) load() config.Config {
	cfg := config.Load()
	if o.tuningFile != "" {
		cfg.RetrievalConfigFile = o.tuningFile
	}
	return cfg
}

func (o *rootOptions) logger(cfg config.Config) *slog.Logger {
	return logging.New(os.Stderr, cfg.ServiceName+"-ctl", o.logLevel, false)
}

// newScoreCmd scores offline: no store is contacted, so semantic coverage
// only sees the keywords given on the command line.
func newScoreCmd(opts *rootOptions) *cobra.Command {
	var keywords []string
	cmd := &cobra.Command{
		Use:   "score <query>",
		Short: "Print the confidence breakdown of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			if err := cfg.ApplyTuningFile(cfg.RetrievalConfigFile); err != nil {
				return err
			}
			scorer, err := confidence.New(cfg.ConfidenceConfig(), confidence.Options{Keywords: keywords})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), scorer.Score(args[0], domain.QueryContext{}))
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "corpus keywords used for coverage")
	return cmd
}

func newContextCmd(opts *rootOptions) *cobra.Command {
	var (
		courseID string
		answer   bool
	)
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Run the retrieval pipeline for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.load()
			app, err := bootstrap.New(cmd.Context(), cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer app.Close()

			if answer {
				out, err := app.ContextUC.Answer(cmd.Context(), args[0], courseID, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			out, err := app.ContextUC.AnswerContext(cmd.Context(), args[0], courseID, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "course id (default: all courses)")
	cmd.Flags().BoolVar(&answer, "answer", false, "also generate an answer")
	return cmd
}

func newMaterialCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "material",
		Short: "Manage stored course materials",
	}

	var (
		id       string
		courseID string
		file     string
		keywords []string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Insert or replace a material; run reindex afterwards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := readContent(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			cfg := opts.load()
			db, err := postgres.OpenDB(cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			m := domain.Material{ID: id, CourseID: courseID, Content: content, Keywords: keywords}
			if err := postgres.NewMaterialRepository(db).Upsert(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored material %s in %s\n", id, courseID)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "material id")
	add.Flags().StringVar(&courseID, "course", "", "course id")
	add.Flags().StringVar(&file, "file", "-", "content file, - for stdin")
	add.Flags().StringSliceVar(&keywords, "keywords", nil, "curated keywords")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("course")

	cmd.AddCommand(add)
	return cmd
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var courseID string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Embed stored materials into the vector index and notify API instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.load()
			app, err := bootstrap.New(cmd.Context(), cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.ReindexUC.Reindex(cmd.Context(), courseID)
			if err != nil {
				return err
			}
			scope := courseID
			if scope == "" {
				scope = "all courses"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d materials for %s\n", n, scope)
			return nil
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "course id (default: all courses)")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the retrieval tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.load()
			app, err := bootstrap.New(cmd.Context(), cfg, opts.logger(cfg))
			if err != nil {
				return err
			}
			defer app.Close()
			return mcpadapter.NewServer(app.ContextUC, cfg.Version).ServeStdio()
		},
	}
}

func readContent(stdin io.Reader, file string) (string, error) {
	var (
		raw []byte
		err error
	)
	if file == "" || file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read material content: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "read material content", fmt.Errorf("empty content"))
	}
	return content, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
