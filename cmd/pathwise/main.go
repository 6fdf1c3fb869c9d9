// Command pathwise runs the skill assessment chat service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pathwise-ai/pathwise/internal/generate"
	tracing "github.com/pathwise-ai/pathwise/internal/observability"
	"github.com/pathwise-ai/pathwise/internal/persist"
	"github.com/pathwise-ai/pathwise/internal/ratelimit"
	"github.com/pathwise-ai/pathwise/internal/server"
	"github.com/pathwise-ai/pathwise/internal/session"
	"github.com/pathwise-ai/pathwise/pkg/config"
	"github.com/pathwise-ai/pathwise/pkg/observability"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "pathwise",
		Short:         "Skill assessment chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API and observability servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	return rootCmd
}

func runServe(configPath string) error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	observability.InitMetrics()
	if err := tracing.InitFromEnv(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := generate.NewOpenAIProvider(cfg.Generator.APIKey, cfg.Generator.BaseURL, cfg.Generator.Model)
	if err != nil {
		return err
	}

	var gate generate.Persister
	if cfg.Persistence.BaseURL != "" {
		recorder := persist.NewHTTPRecorder(cfg.Persistence.BaseURL, cfg.Persistence.Timeout)
		gate = persist.NewGate(store, recorder, cfg.Persistence.AllowedHosts)
	} else {
		log.Printf("persistence disabled: no downstream URL configured")
	}

	orch := generate.NewOrchestrator(store, provider, gate, generate.Config{
		Timeout:     cfg.Generator.Timeout,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
		RPS:         cfg.Generator.RPS,
		Burst:       cfg.Generator.Burst,
	})

	api := server.New(store, ratelimit.New(), orch, server.Config{
		SendLimit:         cfg.RateLimit.SendLimit,
		StatusLimit:       cfg.RateLimit.StatusLimit,
		Window:            cfg.RateLimit.Window,
		SessionMaxAge:     cfg.Session.MaxAge,
		SessionMaxEntries: cfg.Session.MaxEntries,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	checker := observability.NewHealthChecker()
	checker.RegisterCheck(observability.PingCheck())
	checker.RegisterCheck(observability.StoreCheck(func(ctx context.Context) error {
		_, err := store.Len(ctx)
		return err
	}))
	obsSrv := observability.NewServer(cfg.Server.MetricsAddr, checker)

	// Scheduled sweep backing up the amortized per-request cleanup, so idle
	// deployments still evict expired sessions.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Session.CleanupCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		evicted, err := store.Cleanup(ctx, cfg.Session.MaxAge, cfg.Session.MaxEntries)
		if err != nil {
			log.Printf("session sweep failed: %v", err)
			return
		}
		if evicted > 0 {
			observability.RecordSessionsEvicted(evicted)
		}
	}); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Session.CleanupCron, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("pathwise %s listening on %s", version, cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("observability listening on %s", cfg.Server.MetricsAddr)
		if err := obsSrv.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
		if err := obsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("observability shutdown: %v", err)
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func newStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case "redis":
		return session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
			TTL:      cfg.Session.Redis.TTL,
		})
	default:
		return session.NewMemoryStore(), nil
	}
}
