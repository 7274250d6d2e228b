package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oauthd/oauthd"
	"github.com/oauthd/oauthd/instrumentation"
	"github.com/oauthd/oauthd/security"
	"github.com/oauthd/oauthd/signing"
	"github.com/oauthd/oauthd/storage/memory"
)

var (
	servePort       int
	serveIssuer     string
	serveResource   string
	serveSubject    string
	serveTrustProxy bool
	serveLogLevel   string
	serveKeyFile    string
)

var rootCmd = &cobra.Command{
	Use:     "oauthd",
	Short:   "A minimal OAuth 2.0 authorization server for development",
	Version: fmt.Sprintf("%s (%s)", Version, Commit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 9000, "port to listen on")
	serveCmd.Flags().StringVar(&serveIssuer, "issuer", "", "issuer base URL (default http://localhost:<port>)")
	serveCmd.Flags().StringVar(&serveResource, "resource", "", "default resource indicator for minted tokens")
	serveCmd.Flags().StringVar(&serveSubject, "subject", "", "fixed subject claim for minted tokens")
	serveCmd.Flags().BoolVar(&serveTrustProxy, "trust-proxy", false, "trust X-Forwarded-For headers from a reverse proxy")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveKeyFile, "key-file", "", "PEM file with the RSA signing key (generated if empty)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(serveLogLevel)

	issuer := serveIssuer
	if issuer == "" {
		issuer = fmt.Sprintf("http://localhost:%d", servePort)
	}

	keys, err := loadKeys()
	if err != nil {
		return err
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "oauthd",
		ServiceVersion: Version,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	store := memory.New()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)
	defer store.Stop()

	server, err := oauthd.NewServer(store, store, store, keys, &oauthd.ServerConfig{
		Issuer:          issuer,
		Subject:         serveSubject,
		DefaultResource: serveResource,
		TrustProxy:      serveTrustProxy,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	server.SetAuditor(security.NewAuditor(logger, true))
	server.SetInstrumentation(inst)

	handler := oauthd.NewHandler(server, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(issuer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Instrumentation shutdown failed", "error", err)
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadKeys() (*signing.KeyProvider, error) {
	if serveKeyFile == "" {
		return signing.NewKeyProvider()
	}
	pemBytes, err := os.ReadFile(serveKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	keys, err := signing.LoadKeyProvider(pemBytes, signing.DefaultKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	return keys, nil
}

func printBanner(issuer string) {
	fmt.Printf("OAuth authorization server listening at %s\n", issuer)
	fmt.Println("Endpoints:")
	fmt.Println("  POST /register - Client registration")
	fmt.Println("  GET  /authorize - Authorization endpoint")
	fmt.Println("  POST /token - Token endpoint")
	fmt.Println("  GET  /.well-known/jwks.json - JWKS endpoint")
	fmt.Println("  GET  /.well-known/oauth-authorization-server - Discovery endpoint")
}
