package cmd

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/dbadmin/api"
	_ "github.com/jmcleod/dbadmin/driver/mysql"
	_ "github.com/jmcleod/dbadmin/driver/postgres"
	_ "github.com/jmcleod/dbadmin/driver/sqlite"
	"github.com/jmcleod/dbadmin/internal/config"
	"github.com/jmcleod/dbadmin/web"
)

var (
	host       string
	port       int
	configFile string
	sessionDB  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the administration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("host") {
			cfg.Host = host
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = port
		}
		if cmd.Flags().Changed("session-db") {
			cfg.SessionDB = sessionDB
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithWebHandler(web.Handler()),
		}
		if cfg.SessionDB != "" {
			store, secret, err := api.NewBoltSessionStore(cfg.SessionDB, cfg.SessionTTL)
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			opts = append(opts, api.WithSessionStore(store, secret))
		}

		a := api.New(cfg, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Mount("/", a.Router())

		server := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Listening on http://%s\n", cfg.Addr())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to bind")
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVarP(&configFile, "config", "c", "dbadmin.yaml", "Path to config file")
	serverCmd.Flags().StringVar(&sessionDB, "session-db", "", "Persist sessions to this bbolt file")
}
