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

	"golang.org/x/sync/errgroup"

	"github.com/example/driver-console/internal/config"
	"github.com/example/driver-console/internal/declined"
	"github.com/example/driver-console/internal/dispatch"
	"github.com/example/driver-console/internal/drawer"
	"github.com/example/driver-console/internal/earnings"
	"github.com/example/driver-console/internal/events"
	httpapi "github.com/example/driver-console/internal/http"
	"github.com/example/driver-console/internal/location"
	"github.com/example/driver-console/internal/logging"
	"github.com/example/driver-console/internal/remote"
	"github.com/example/driver-console/internal/telegram"
	"github.com/example/driver-console/internal/tracker"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("driver console stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AgentConfig, log *slog.Logger) error {
	var creds remote.CredentialStore = remote.NewMemoryCredentials()
	if cfg.CredentialsPath != "" {
		creds = remote.NewFileCredentials(cfg.CredentialsPath)
	}
	client := remote.NewClient(cfg.APIBaseURL, cfg.APITimeout, creds, logging.Component(log, "remote"))

	driverID := cfg.DriverID
	if cfg.DriverEmail != "" && cfg.DriverPassword != "" {
		d, err := client.Login(ctx, cfg.DriverEmail, cfg.DriverPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		log.Info("logged in", "driver_id", d.ID, "name", d.Name)
		if driverID == "" {
			driverID = d.ID
		}
	} else if client.Authenticated() {
		// stored credentials: refresh the profile, fall back to the saved copy
		d, err := client.Profile(ctx)
		if err != nil {
			log.Warn("profile refresh failed", "error", err)
			d, err = client.CurrentDriver()
		}
		if err == nil && driverID == "" {
			driverID = d.ID
		}
	}
	if !client.Authenticated() {
		log.Warn("no stored credentials, ride service calls will fail until DRIVER_EMAIL and DRIVER_PASSWORD are set")
	}

	var (
		store declined.Store
		rs    *declined.RedisStore
	)
	if cfg.RedisAddr != "" && driverID != "" {
		rs = declined.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, driverID, cfg.DeclinedTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable, declined requests may resurface after a restart", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
		store = rs
	}
	set := declined.NewSet(store, logging.Component(log, "declined"))
	if rs != nil {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := set.Flush(flushCtx); err != nil {
				log.Warn("declined writes still pending at shutdown", "error", err)
			}
			_ = rs.Close()
		}()
	}
	if err := set.Restore(ctx); err != nil {
		log.Warn("declined set not restored", "error", err)
	}

	tr := tracker.New(client, tracker.Config{
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeoutSeconds,
		CallTimeout:    cfg.APITimeout,
	}, set, logging.Component(log, "tracker"))

	earn := earnings.NewService(client, cfg.APITimeout, logging.Component(log, "earnings"))
	reporter := location.NewReporter(client, cfg.LocationInterval, func() bool { return tr.Snapshot().Online() }, logging.Component(log, "location"))
	hub := dispatch.NewHub(logging.Component(log, "dispatch"))
	defer hub.Close()

	// subscribers attach before the loop starts so none miss early events
	g, gctx := errgroup.WithContext(ctx)

	hubEvents, _ := tr.Subscribe("hub", 64)
	g.Go(func() error { hub.Run(gctx, hubEvents); return nil })

	earnEvents, _ := tr.Subscribe("earnings", 8)
	g.Go(func() error { earn.Watch(gctx, earnEvents); return nil })

	g.Go(func() error { reporter.Run(gctx); return nil })

	if len(cfg.KafkaBrokers) > 0 {
		if driverID == "" {
			log.Warn("KAFKA_BROKERS set without a driver id, lifecycle stream disabled")
		} else {
			producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, driverID, logging.Component(log, "events"))
			defer producer.Close()
			streamEvents, _ := tr.Subscribe("kafka", 64)
			g.Go(func() error { producer.Forward(gctx, streamEvents); return nil })
		}
	}

	if cfg.TelegramToken != "" {
		bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID, tr, earn, reporter, logging.Component(log, "telegram"))
		if err != nil {
			log.Warn("telegram disabled", "error", err)
		} else {
			botEvents, _ := tr.Subscribe("telegram", 32)
			g.Go(func() error { bot.Run(gctx, botEvents); return nil })
		}
	}

	g.Go(func() error { return tr.Run(gctx) })

	api := httpapi.NewServer(httpapi.Deps{
		Tracker:  tr,
		Earnings: earn,
		History:  client,
		Location: reporter,
		Account:  client,
		Drawer:   drawer.New(drawer.Heights(cfg.DrawerHeights)),
		Hub:      hub,
	}, logging.Component(log, "http"))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	g.Go(func() error {
		log.Info("driver console listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
