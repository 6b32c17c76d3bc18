package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"perf-agent-server/internal/config"
	"perf-agent-server/internal/database"
	"perf-agent-server/internal/service"
	"perf-agent-server/pkg/migration"
	"perf-agent-server/shared/logger"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "jmxgen",
		Short:         "Generate JMeter test plans from a scenario description",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file (default: ./.env)")

	root.AddCommand(generateCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func generateCmd() *cobra.Command {
	var (
		promptFile string
		outPath    string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt...]",
		Short: "Generate a .jmx test plan",
		Example: `  jmxgen generate "Create a test plan for a login endpoint" --out login.jmx
  jmxgen generate --prompt-file scenario.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, promptFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(prompt) == "" {
				return service.ErrEmptyPrompt
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if model != "" {
				cfg.AI.Model = model
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runGenerate(ctx, cfg, prompt, outPath, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVarP(&promptFile, "prompt-file", "f", "", "read the scenario from a file ('-' for stdin)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plan to this file instead of stdout")
	cmd.Flags().StringVar(&model, "model", "", "override AI_MODEL")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the response schema sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := map[string]any{
				"name":   service.JMeterPlanSchema.Name,
				"schema": service.JMeterPlanSchema.JSONSchema(),
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the plan history schema (requires DB_ENABLED=true)",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *migration.Migrator) error { return m.Down(steps) })
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 rolls back all)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *migration.Migrator) error { return m.Up() })
			},
		},
		down,
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *migration.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
					return err
				})
			},
		},
	)
	return cmd
}

// withMigrator connects to the configured database once and runs fn.
func withMigrator(cmd *cobra.Command, fn func(m *migration.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.DB.Enabled {
		return errors.New("migrate requires DB_ENABLED=true")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.GetDSN(), cfg.DB, database.RetryPolicy{MaxRetries: 1}, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(database.NewMigrator(pool, log))
}

// newLogger writes to stderr so a plan written to stdout stays clean.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.CLILoggerConfig("jmxgen"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func runGenerate(ctx context.Context, cfg *config.Config, prompt, outPath string, stdout io.Writer, log *zap.Logger) error {
	aiClient, err := service.NewAIClient(ctx, cfg.AI, log)
	if err != nil {
		return err
	}

	result := service.NewPlanGenerator(aiClient, log).Generate(ctx, prompt)
	if !result.OK() {
		return errors.New(result.Message())
	}

	if outPath == "" {
		_, err = io.WriteString(stdout, result.JMX+"\n")
		return err
	}
	if err := os.WriteFile(outPath, []byte(result.JMX), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	log.Info("Plan written", zap.String("path", outPath), zap.Int("bytes", len(result.JMX)))
	return nil
}

// readPrompt joins the positional args, or reads promptFile when given.
func readPrompt(args []string, promptFile string, stdin io.Reader) (string, error) {
	if promptFile == "" {
		return strings.Join(args, " "), nil
	}
	if len(args) > 0 {
		return "", errors.New("pass the prompt as arguments or with --prompt-file, not both")
	}

	var data []byte
	var err error
	if promptFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(promptFile)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	return string(data), nil
}

func loadConfig() (*config.Config, error) {
	if envFile != "" {
		return config.LoadConfig(envFile)
	}
	return config.LoadConfig()
}
