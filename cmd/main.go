package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallbox_control/internal/config"
	"wallbox_control/internal/handlers"
	"wallbox_control/internal/logger"
	"wallbox_control/internal/models"
	"wallbox_control/internal/panel"
	"wallbox_control/internal/repository"
	"wallbox_control/internal/repository/db"
	"wallbox_control/internal/server"
	"wallbox_control/internal/service"
)

const usage = `usage: wallbox_control [-config path] <command>

commands:
  serve          run the HTTP server
  start          start charging
  stop           stop charging (refused while the wallbox is finishing)
  status         read the charging status
  mode           read the charge mode
  set-mode <m>   set the charge mode (eco | full | solar)
`

func main() {
	configPath := flag.String("config", "", "path to config.yml (default: configs/config.yml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error reading config:", err)
		os.Exit(2)
	}
	log := logger.Get(cfg.LogLevel)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "serve":
		serve(cfg, log)
	case "start":
		runOnce(cfg, log, models.Action{Kind: models.ActionStart})
	case "stop":
		runOnce(cfg, log, models.Action{Kind: models.ActionStop})
	case "status":
		runOnce(cfg, log, models.Action{Kind: models.ActionGetStatus})
	case "mode":
		runOnce(cfg, log, models.Action{Kind: models.ActionGetMode})
	case "set-mode":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "set-mode requires a mode argument (eco | full | solar)")
			os.Exit(2)
		}
		mode, ok := models.ParseChargeMode(args[1])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown mode %q, want eco, full or solar\n", args[1])
			os.Exit(2)
		}
		runOnce(cfg, log, models.Action{Kind: models.ActionSetMode, Mode: mode})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// buildServices wires the browser facade, persistence, and services.
func buildServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*service.Service, *panel.Browser, *sql.DB, error) {
	database, err := openDB(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}

	browser := panel.NewBrowser(ctx, panel.Options{
		URL:          cfg.Wallbox.URL,
		PageLoadWait: cfg.Wallbox.PageLoadWait,
		Headless:     cfg.Wallbox.Headless,
	})

	repos := repository.NewRepository(database)
	return service.NewService(browser, repos, cfg, log), browser, database, nil
}

// runOnce executes a single action and prints the outcome as JSON.
// Exit code 0 means the action succeeded (including idempotent skips);
// 1 means it did not.
func runOnce(cfg *config.Config, log *logger.Logger, a models.Action) {
	ctx := context.Background()
	services, browser, database, err := buildServices(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "err", err)
	}
	defer func() {
		browser.Close()
		_ = database.Close()
	}()

	out := services.Control.Execute(ctx, a)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	if !out.Succeeded {
		os.Exit(1)
	}
}

func serve(cfg *config.Config, log *logger.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, browser, database, err := buildServices(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize", "err", err)
	}
	defer func() {
		browser.Close()
		if cerr := database.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	apiHandler := handlers.NewHandler(services, log, cfg.Auth.Secret)

	srv := &server.Server{}
	go func() {
		log.Infow("starting server", "port", cfg.Port, "wallbox_url", cfg.Wallbox.URL)
		if err := srv.Run(cfg.Port, apiHandler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()

	waitForShutdown(cancel, srv, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	path := cfg.DB.Path
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", "wallbox.db")
		path = "wallbox.db"
	}
	return db.InitDB(path)
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines and the shared browser context
	cancel()

	// allow in-flight requests to complete; a dispatched wallbox action
	// can legitimately take the full action timeout
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
