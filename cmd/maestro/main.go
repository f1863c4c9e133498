package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-sys/maestro/pkg/config"
	"github.com/maestro-sys/maestro/pkg/log"
	"github.com/maestro-sys/maestro/pkg/metrics"
	"github.com/maestro-sys/maestro/pkg/orchestrator"
	"github.com/maestro-sys/maestro/pkg/reasoning"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro - Runtime coordination core",
	Long: `Maestro coordinates the components of a running system: it keeps a
component registry, routes orchestration events, monitors health behind
circuit breakers, diffs observable state, schedules pipelines, and
escalates unresolved problems to an external reasoning service.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Maestro version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().String("config", "", "path to the pipeline configuration file (default $MAESTRO_CONFIG or maestro.yaml)")
	runCmd.Flags().String("listen-addr", "", "metrics listen address (default $MAESTRO_LISTEN_ADDR or :9464)")
	runCmd.Flags().String("log-level", "", "log level: debug, info, warn, error (default $MAESTRO_LOG_LEVEL or info)")
	runCmd.Flags().String("audit-db", "", "path to the bolt audit archive (default $MAESTRO_AUDIT_DB; empty disables archiving)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordination core",
	Long: `Run the coordination core until interrupted.

Configuration comes from the environment (a local .env file is merged in
when present) and the YAML pipeline document, which is watched and hot
reloaded on change. Flags override the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := config.LoadEnv()
		if err != nil {
			return fmt.Errorf("load environment: %w", err)
		}
		if v, _ := cmd.Flags().GetString("config"); v != "" {
			env.ConfigPath = v
		}
		if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
			env.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("log-level"); v != "" {
			env.LogLevel = v
		}
		if v, _ := cmd.Flags().GetString("audit-db"); v != "" {
			env.AuditPath = v
			env.AuditEnabled = true
		}

		log.Init(log.Config{Level: log.Level(env.LogLevel), JSONOutput: true, Output: os.Stderr})
		logger := log.WithSubsystem("main")

		opts := orchestrator.Options{ConfigPath: env.ConfigPath}
		if env.AuditEnabled && env.AuditPath != "" {
			opts.AuditDBPath = env.AuditPath
		}

		if reasoningConfigured() {
			svc, err := reasoning.FromEnv()
			if err != nil {
				return fmt.Errorf("reasoning service: %w", err)
			}
			opts.Reasoning = svc
		} else {
			logger.Warn().Msg("no reasoning service configured, problem escalation disabled")
		}

		core, err := orchestrator.New(opts)
		if err != nil {
			return fmt.Errorf("failed to create orchestrator: %w", err)
		}
		if err := core.Start(); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		srv := &http.Server{Addr: env.ListenAddr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		logger.Info().
			Str("config", env.ConfigPath).
			Str("listen_addr", env.ListenAddr).
			Msg("maestro is running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("metrics server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
		if err := core.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a pipeline configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := config.LoadFile(args[0])
		if err != nil {
			return err
		}
		specs := doc.PipelineSpecs()
		fmt.Printf("✓ %s is valid (%d pipelines)\n", args[0], len(specs))
		for _, spec := range specs {
			fmt.Printf("  %s: %s, %d stages, %d triggers\n",
				spec.ID, spec.Mode, len(spec.Stages), len(spec.Triggers))
		}
		return nil
	},
}

// reasoningConfigured reports whether the environment names a reasoning
// provider or carries credentials for the default one
func reasoningConfigured() bool {
	return os.Getenv("REASONING_PROVIDER") != "" || os.Getenv("OPENAI_API_KEY") != ""
}
