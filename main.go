package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrmod/travis-telegram/backend"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagPort        string
	flagRoute       string
	flagHTTPTimeout time.Duration
	flagKeyCacheTTL time.Duration

	flagLoggingTraceEnabled bool
	flagLoggingDebugEnabled bool
	flagLogFormat           string
)

func initLogging() {
	if flagLogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	zerolog.DefaultContextLogger = &log.Logger
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagLoggingDebugEnabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if flagLoggingTraceEnabled {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// newServeMux wires the webhook handler and the health check
func newServeMux(cfg *Config) *http.ServeMux {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	keys := NewTravisKeyFetcher(cfg.TravisConfigURL, client)
	if cfg.KeyCacheEnabled() {
		log.Info().
			Str("redisAddress", cfg.RedisAddress).
			Dur("ttl", cfg.KeyCacheTTL).
			Msg("Caching Travis public key")
		keys.Cache = backend.NewRedisBackend(backend.RedisOptions{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		keys.CacheTTL = cfg.KeyCacheTTL
	}
	bot := NewTelegramBot(cfg.TelegramApiUrl, cfg.TelegramChatID, client)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle(cfg.Route, NewTravisWebhookHandler(cfg.Route, keys, bot))
	return mux
}

func serve(ctx context.Context, cfg *Config) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServeMux(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Err(err).Msg("Failed to shut down webhook server")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("route", cfg.Route).
		Str("travisConfigUrl", cfg.TravisConfigURL).
		Msg("Listening for Travis webhook events")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "travis-telegram",
		Short: "Relay verified Travis CI build results to a Telegram chat",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&flagLoggingTraceEnabled, "enable-trace-logging", false, "Enable trace logging")
	rootCmd.PersistentFlags().BoolVar(&flagLoggingDebugEnabled, "enable-debug-logging", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "json", "Log format: json or console")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			cfg.Port = flagPort
			cfg.Route = flagRoute
			cfg.HTTPTimeout = flagHTTPTimeout
			cfg.KeyCacheTTL = flagKeyCacheTTL
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().StringVar(&flagPort, "port", "10005", "Port to listen for Travis webhook events. Ex: 8080")
	serveCmd.Flags().StringVar(&flagRoute, "route", "/", "Path Travis posts webhook events to")
	serveCmd.Flags().DurationVar(&flagHTTPTimeout, "http-timeout", 10*time.Second, "Timeout for calls to Travis and Telegram")
	serveCmd.Flags().DurationVar(&flagKeyCacheTTL, "key-cache-ttl", 0, "Cache the Travis public key in redis for this long. 0 fetches it on every request")

	rootCmd.AddCommand(serveCmd)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("travis-telegram failed")
	}
}
