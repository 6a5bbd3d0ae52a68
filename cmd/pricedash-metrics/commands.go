package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngoyal88/pricedash/pkg/cache"
	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/metrics"
	"github.com/ngoyal88/pricedash/pkg/storage"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pricedash-metrics",
		Short: "Inspect recorded proxy call metrics",
		Long: `pricedash-metrics reads the JSON-lines metrics file written by the proxy,
or the Redis history when it is enabled.

Example usage:
  pricedash-metrics tail -n 20              # Last 20 records from the file
  pricedash-metrics summary --json          # Error rate and latency percentiles
  pricedash-metrics history -n 50           # Last 50 records from Redis`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("file", "", "metrics file (default: METRICS_FILE or metrics.jsonl)")

	root.AddCommand(newTailCmd(), newSummaryCmd(), newHistoryCmd())
	return root
}

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent records from the metrics file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("lines")
			asJSON, _ := cmd.Flags().GetBool("json")

			recs, err := loadFile(cmd)
			if err != nil {
				return err
			}
			if n > 0 && len(recs) > n {
				recs = recs[len(recs)-n:]
			}
			return printRecords(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().IntP("lines", "n", 20, "number of records to show (0 = all)")
	cmd.Flags().Bool("json", false, "output as JSON lines")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate the metrics file: counts, error rate, latency percentiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			recs, err := loadFile(cmd)
			if err != nil {
				return err
			}
			s := metrics.Summarize(recs)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			return printSummary(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print records mirrored to Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("lines")
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Redis.Enabled {
				return errors.New("redis is not enabled in config (REDIS_ENABLED)")
			}
			rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			store := storage.NewRedisStore(rdb, cfg.Redis.HistoryKey, cfg.Metrics.Capacity)
			recs, err := store.Recent(ctx, n)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().IntP("lines", "n", 20, "number of records to show")
	cmd.Flags().Bool("json", false, "output as JSON lines")
	return cmd
}

func loadFile(cmd *cobra.Command) ([]metrics.Record, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Metrics.File
	}

	recs, skipped, err := metrics.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d malformed line(s) in %s\n", skipped, path)
	}
	return recs, nil
}

func printRecords(w io.Writer, recs []metrics.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tSTATUS\tPROMPT\tUPSTREAM_MS\tTOTAL_MS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\n",
			time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
			r.ID,
			r.UpstreamStatus,
			r.PromptLength,
			r.UpstreamDurationMs,
			r.TotalDurationMs,
		)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, s metrics.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "records\t%d\n", s.Count)
	fmt.Fprintf(tw, "errors\t%d (%.2f%%)\n", s.Errors, s.ErrorRate*100)
	if s.Count > 0 {
		fmt.Fprintf(tw, "window\t%s .. %s\n",
			time.UnixMilli(s.From).UTC().Format(time.RFC3339),
			time.UnixMilli(s.To).UTC().Format(time.RFC3339))
	}

	statuses := make([]int, 0, len(s.ByStatus))
	for code := range s.ByStatus {
		statuses = append(statuses, code)
	}
	sort.Ints(statuses)
	for _, code := range statuses {
		fmt.Fprintf(tw, "status %d\t%d\n", code, s.ByStatus[code])
	}

	fmt.Fprintf(tw, "upstream ms\tmean %.2f  p50 %.2f  p95 %.2f  max %.2f\n",
		s.Upstream.Mean, s.Upstream.P50, s.Upstream.P95, s.Upstream.Max)
	fmt.Fprintf(tw, "total ms\tmean %.2f  p50 %.2f  p95 %.2f  max %.2f\n",
		s.Total.Mean, s.Total.P50, s.Total.P95, s.Total.Max)
	return tw.Flush()
}
