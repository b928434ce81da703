package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskdesk/internal/audit"
	"taskdesk/internal/auth"
	"taskdesk/internal/cache"
	"taskdesk/internal/config"
	"taskdesk/internal/httpapi"
	"taskdesk/internal/metrics"
	"taskdesk/internal/notify"
	"taskdesk/internal/store"
	"taskdesk/internal/sweeper"
)

var (
	configPath string
	listenAddr string
	dbPath     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the TaskDesk daemon",
	Long:  `Starts the TaskDesk daemon which provides the HTTP API, the legacy /exec endpoint, the deadline sweeper and the email notification queue.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting TaskDesk daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = dbPath
	}

	dialect := store.DialectSQLite
	dsn := cfg.Database.Path
	if cfg.Database.Driver == "postgres" {
		dialect = store.DialectPostgres
		dsn = cfg.Database.DSN
	}
	st, err := store.Open(dialect, dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	secret, configured := cfg.JWTSecretOrDev()
	if !configured {
		log.Println("Warning: no JWT secret configured, using development secret")
	}
	issuer := auth.NewIssuer(secret)

	c := cache.New(cfg.Cache.MaxEntries)
	c.Start()
	defer c.Stop()

	var sender notify.Sender = notify.NopSender{}
	if cfg.SMTP.Host != "" {
		sender = &notify.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}
	} else {
		log.Println("No SMTP host configured, notifications disabled")
	}
	queue := notify.NewQueue(sender, 64)

	m := metrics.New(queue.Pending, func() (uint64, uint64) {
		cs := c.Stats()
		return cs.Hits, cs.Misses
	})

	service := httpapi.NewService(st, c, queue, audit.NewRecorder(st), issuer, cfg.Auth.ManagerEmails)
	server := httpapi.NewServer(service, m, cfg.ListenAddr)

	sw := sweeper.New(st, c, cfg.SweepInterval)
	sw.Start()
	defer sw.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Draining notification queue...")
	queue.Drain(shutdownCtx)

	log.Println("Shutdown complete")
	return nil
}
