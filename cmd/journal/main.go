package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cast"

	"github.com/example/driver-console/internal/config"
	"github.com/example/driver-console/internal/logging"
	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_messages_consumed_total",
		Help: "Total lifecycle messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_messages_invalid_total",
		Help: "Total invalid lifecycle messages received",
	})
	journalAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_appends_total",
		Help: "Total records appended to the journal",
	})
	journalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "journal_append_errors_total",
		Help: "Total records that could not be appended after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, journalAppends, journalErrors)
}

const maxBackoff = 30 * time.Second

func main() {
	cfg, err := config.LoadJournalConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// allow overriding the metrics address for local runs
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, closeJournal, err := openJournal(ctx, cfg, log)
	if err != nil {
		log.Error("journal unavailable", "error", err)
		os.Exit(1)
	}
	defer closeJournal()

	go serveOps(cfg.MetricsAddr, journal, log)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() { _ = r.Close() }()

	log.Info("journal consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, journal, log)
	log.Info("shutting down journal consumer")
}

func openJournal(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (storage.Journal, func(), error) {
	if cfg.PGDSN == "" {
		log.Warn("PG_DSN not set, journal is in memory only")
		return storage.NewMemoryJournal(), func() {}, nil
	}
	if cfg.RunMigrations {
		if err := storage.Migrate(cfg.PGDSN); err != nil {
			return nil, nil, err
		}
		log.Info("journal migrations applied")
	}
	pj, err := storage.NewPostgresJournal(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return pj, func() { _ = pj.Close() }, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func opsMux(journal storage.Journal, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := journal.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				http.Error(w, "journal not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/recent", func(w http.ResponseWriter, r *http.Request) {
		driverID := r.URL.Query().Get("driver_id")
		if driverID == "" {
			http.Error(w, "driver_id is required", http.StatusBadRequest)
			return
		}
		limit := cast.ToInt(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		recs, err := journal.Recent(r.Context(), driverID, limit)
		if err != nil {
			log.Warn("journal read failed", "driver_id", driverID, "error", err)
			http.Error(w, "journal read failed", http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []models.LifecycleRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})
	return mux
}

func serveOps(addr string, journal storage.Journal, log *slog.Logger) {
	log.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, opsMux(journal, log)); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

// messageReader is the subset of *kafka.Reader the consumer loop needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r messageReader, journal storage.Journal, log *slog.Logger) {
	backoff := time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		rec, err := decodeRecord(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			log.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}

		if err := appendWithRetry(ctx, journal, rec, 3, 200*time.Millisecond); err != nil {
			journalErrors.Inc()
			log.Error("journal append failed", "event_id", rec.EventID, "driver_id", rec.DriverID, "error", err)
			continue
		}
		journalAppends.Inc()
	}
}

var errIncompleteRecord = errors.New("record needs event_id, driver_id and type")

func decodeRecord(value []byte) (models.LifecycleRecord, error) {
	var rec models.LifecycleRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return rec, err
	}
	if rec.EventID == "" || rec.DriverID == "" || rec.Type == "" {
		return rec, errIncompleteRecord
	}
	return rec, nil
}

// appendWithRetry appends rec, doubling delay between attempts.
func appendWithRetry(ctx context.Context, j storage.Journal, rec models.LifecycleRecord, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = j.Append(ctx, rec); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
