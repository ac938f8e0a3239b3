// Command rotoscope drives a rotating mount over serial and plays the
// media bound to whichever remembered position it stops at.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/rotoscope/engine"
	"github.com/w1xm/rotoscope/internal/config"
	"github.com/w1xm/rotoscope/internal/logger"
	"github.com/w1xm/rotoscope/internal/storage"
	"github.com/w1xm/rotoscope/media"
	"github.com/w1xm/rotoscope/slots"
)

var (
	app        = kingpin.New("rotoscope", "Rotating mount slot and media controller")
	configPath = app.Flag("config", "Path to config file").String()
	serialPort = app.Flag("serial", "Serial port to open at startup").String()
	baud       = app.Flag("baud", "Serial baud rate").Int()
	simulate   = app.Flag("simulate", "Use the built-in mount simulator").Bool()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	slotsCmd = app.Command("slots", "Print the saved slot table and exit")
)

var _ engine.Presenter = (*media.Hub)(nil)

func init() {
	app.Command("serve", "Run the controller (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	if err := logger.Init(logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	if command == slotsCmd.FullCommand() {
		if err := printSlots(cfg, os.Stdout); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to read slots")
		}
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Err(err).Msg("Server error")
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config) {
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *baud > 0 {
		cfg.Serial.Baud = *baud
	}
	if *simulate {
		cfg.Serial.Simulate = true
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logfile != "" {
		cfg.Log.Output = *logfile
		cfg.Log.File = *logfile
	}
}

// openPersister returns the configured backend and a function releasing it.
func openPersister(ctx context.Context, cfg config.StorageConfig) (slots.Persister, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := storage.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return storage.NewJSONFile(cfg.Path), func() error { return nil }, nil
	}
}

// openStore loads the slots. An unreadable store is replaced by defaults so
// the session can still run.
func openStore(p slots.Persister) *slots.Store {
	store, err := slots.Open(p)
	if err != nil {
		zlog.Warn().Err(err).Msg("Failed to load slots; starting from defaults")
		return slots.New(p)
	}
	return store
}

func printSlots(cfg *config.Config, w io.Writer) error {
	p, closeFn, err := openPersister(context.Background(), cfg.Storage)
	if err != nil {
		return err
	}
	defer closeFn()
	store, err := slots.Open(p)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-5s %-10s %s\n", "SLOT", "POSITION", "MEDIA")
	for _, sl := range store.Slots() {
		pos := "-"
		if sl.Position != nil {
			pos = fmt.Sprint(*sl.Position)
		}
		fmt.Fprintf(w, "%-5d %-10s %s\n", sl.Index, pos, sl.Media)
	}
	return nil
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, closeFn, err := openPersister(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "opening slot storage")
	}
	defer closeFn()
	zlog.Info().Str("driver", cfg.Storage.Driver).Str("path", cfg.Storage.Path).Msg("Slot storage opened")

	hub := media.NewHub()
	e := engine.New(openStore(p), hub, cfg.Matching.Tolerance)
	session := NewSession(ctx, e)
	server := NewServer(e, session, hub, cfg.Server, cfg.Serial.Baud)

	port := cfg.Serial.Port
	if cfg.Serial.Simulate {
		port = simulatorPort
	}
	if port != "" {
		if err := session.Connect(port, cfg.Serial.Baud); err != nil {
			// Stay up; the link can be opened later from the UI.
			zlog.Error().Err(err).Str("port", port).Msg("Failed to connect")
		}
	}

	if cfg.Control.Addr != "" {
		addr, err := server.ListenControl(ctx, cfg.Control.Addr)
		if err != nil {
			return err
		}
		zlog.Info().Stringer("addr", addr).Msg("Control port listening")
	}

	srv := &http.Server{
		Handler:     server.Router(!cfg.Metrics.Disabled),
		Addr:        cfg.Server.Addr,
		ReadTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.Server.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zlog.Info().Msg("Shutting down...")
		session.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	zlog.Info().Msg("Server stopped")
	return nil
}
