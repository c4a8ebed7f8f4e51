package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
)

type KafkaCfg struct {
	Brokers string
	Topic   string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	OverpassURL     string
	OverpassTimeout time.Duration
	FetchAttempts   uint
	FetchRetryDelay time.Duration

	CatalogFile       string
	IngestParallelism int

	// InitialViewport is nil when INITIAL_VIEWPORT is unset.
	InitialViewport *model.Viewport
	// ViewportSource is "none" or "kafka".
	ViewportSource string
	Kafka          KafkaCfg

	Metrics MetricsCfg
}

func FromEnv() (Config, error) {
	cfg := Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		OverpassURL:     getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		OverpassTimeout: getduration("OVERPASS_TIMEOUT", 60*time.Second),
		FetchAttempts:   getuint("FETCH_ATTEMPTS", 1),
		FetchRetryDelay: getduration("FETCH_RETRY_DELAY", 2*time.Second),

		CatalogFile:       getenv("CATALOG_FILE", ""),
		IngestParallelism: getint("INGEST_PARALLELISM", 1),

		ViewportSource: strings.ToLower(getenv("VIEWPORT_SOURCE", "none")),
		Kafka: KafkaCfg{
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "viewport-events"),
			GroupID: getenv("KAFKA_GROUP_ID", "osm-viewport"),
		},

		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}

	if cfg.IngestParallelism < 1 {
		cfg.IngestParallelism = 1
	}
	if cfg.FetchAttempts < 1 {
		cfg.FetchAttempts = 1
	}

	switch cfg.ViewportSource {
	case "none", "kafka":
	default:
		return Config{}, fmt.Errorf("VIEWPORT_SOURCE must be none or kafka, got %q", cfg.ViewportSource)
	}

	if raw := strings.TrimSpace(os.Getenv("INITIAL_VIEWPORT")); raw != "" {
		v, err := model.ParseViewport(raw)
		if err != nil {
			return Config{}, fmt.Errorf("INITIAL_VIEWPORT: %w", err)
		}
		cfg.InitialViewport = &v
	}
	return cfg, nil
}

func (k KafkaCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getuint(k string, def uint) uint {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
