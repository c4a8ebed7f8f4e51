package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/osm-viewport/internal/cache/responsecache"
	"github.com/mohammed-shakir/osm-viewport/internal/catalog"
	"github.com/mohammed-shakir/osm-viewport/internal/convert"
	"github.com/mohammed-shakir/osm-viewport/internal/core/httpclient"
	"github.com/mohammed-shakir/osm-viewport/internal/core/model"
	"github.com/mohammed-shakir/osm-viewport/internal/identity"
	"github.com/mohammed-shakir/osm-viewport/internal/legend"
	"github.com/mohammed-shakir/osm-viewport/internal/logger"
	"github.com/mohammed-shakir/osm-viewport/internal/overpass"
	"github.com/mohammed-shakir/osm-viewport/internal/pipeline"
	"github.com/mohammed-shakir/osm-viewport/internal/store"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "overpassctl",
		Short:         "Inspect Overpass queries, conversions and viewport filtering",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")

	newLogger := func(w io.Writer) *slog.Logger {
		zl := logger.Build(logger.Config{Level: logLevel, Console: true, Component: "overpassctl"}, w)
		return logger.NewSlog(&zl)
	}

	root.AddCommand(newIDCmd(), newConvertCmd(), newRunCmd(newLogger))
	return root
}

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id [query text | -]",
		Short: "Print the identifier for a query text (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), identity.Identify(text))
			return err
		},
	}
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert an Overpass JSON reply to GeoJSON (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}
			raw, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fc, err := convert.Convert(raw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), fc)
		},
	}
}

func newRunCmd(newLogger func(io.Writer) *slog.Logger) *cobra.Command {
	var (
		bbox        string
		catalogFile string
		endpoint    string
		timeout     time.Duration
		attempts    uint
		parallelism int
		showLegend  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a catalog once and print what is visible in --bbox",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := model.ParseViewport(bbox)
			if err != nil {
				return fmt.Errorf("--bbox: %w", err)
			}
			cat := catalog.Default()
			if catalogFile != "" {
				if cat, err = catalog.Load(catalogFile); err != nil {
					return err
				}
			}

			log := newLogger(cmd.ErrOrStderr())
			client, err := overpass.New(log, httpclient.NewOutbound(timeout), endpoint)
			if err != nil {
				return err
			}
			fetcher := overpass.WithRetry(client, attempts, 2*time.Second, log)
			orch := pipeline.New(cat, responsecache.New(fetcher, log), store.New(),
				pipeline.WithParallelism(parallelism),
				pipeline.WithLogger(log),
			)

			rep, ingestErr := orch.Ingest(cmd.Context())
			for _, o := range rep.Outcomes {
				line := fmt.Sprintf("%-10s %s %-16s features=%d", o.Result, o.ID, o.Name, o.Features)
				if o.Err != nil {
					line += " err=" + o.Err.Error()
				}
				fmt.Fprintln(cmd.ErrOrStderr(), line)
			}

			visible, err := orch.FilterFor(v)
			if err != nil {
				return err
			}
			if showLegend {
				for _, e := range legend.Build(visible) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.Label(), e.Name)
				}
			} else if err := writeJSON(cmd.OutOrStdout(), visible); err != nil {
				return err
			}
			if ingestErr != nil && rep.Failed() == len(rep.Outcomes) {
				return fmt.Errorf("every query failed: %w", ingestErr)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&bbox, "bbox", "", "viewport as west,south,east,north")
	f.StringVar(&catalogFile, "catalog", os.Getenv("CATALOG_FILE"), "catalog file (.yaml, .toml, .json); built-in default when empty")
	f.StringVar(&endpoint, "url", envOr("OVERPASS_URL", overpass.DefaultEndpoint), "Overpass interpreter URL")
	f.DurationVar(&timeout, "timeout", httpclient.DefaultTimeout, "per-request timeout")
	f.UintVar(&attempts, "attempts", 1, "fetch attempts per query")
	f.IntVar(&parallelism, "parallel", 1, "concurrent fetches")
	f.BoolVar(&showLegend, "legend", false, "print the legend instead of GeoJSON")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
