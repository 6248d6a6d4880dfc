package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"assetscope/internal/config"
	"assetscope/internal/domain"
	"assetscope/internal/pipeline"
	"assetscope/internal/store/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "YAML configuration file (defaults apply when empty)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	targets := flag.String("targets", "", "comma-separated target specs (overrides config)")
	passes := flag.Int("passes", 1, "number of inventory passes to run")
	interval := flag.Duration("interval", 0, "delay between passes")
	reviews := flag.Bool("reviews", false, "list pending review entries and exit")
	resolveReview := flag.Int64("resolve-review", 0, "mark a review entry handled and exit")
	remove := flag.String("remove", "", "remove a device by id and exit")
	removeReason := flag.String("reason", "manual removal", "reason recorded when removing a device")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *targets != "" {
		cfg.Targets = splitSpecs(*targets)
	}

	log := newLogger(cfg.Log.Level)

	st, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("opening device store")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *reviews:
		err = listReviews(ctx, st)
	case *resolveReview != 0:
		err = st.ResolveReview(ctx, *resolveReview)
	case *remove != "":
		err = st.Remove(ctx, *remove, *removeReason, "admin")
	default:
		err = runPasses(ctx, cfg, st, log, *passes, *interval)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("assetscope failed")
	}
}

func runPasses(ctx context.Context, cfg *config.Config, st *sqlite.Store, log zerolog.Logger, passes int, interval time.Duration) error {
	pl, err := pipeline.New(cfg, st, log)
	if err != nil {
		return err
	}

	for i := 0; i < passes; i++ {
		summary, err := pl.Run(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)

		if i+1 < passes && interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil
}

func printSummary(s *domain.RunSummary) {
	fmt.Printf("pass %s: %d enumerated, %d reachable, %d unreachable, %d collected in %s\n",
		s.PassID, s.Enumerated, s.Reachable, s.Unreachable, s.Collected, s.Elapsed.Round(time.Millisecond))
	fmt.Printf("  inserted %d, updated %d, merged %d, flagged %d\n",
		s.Inserted, s.Updated, s.Merged, s.Flagged)
	for _, e := range s.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func describeKeys(e domain.ReviewEntry) string {
	keys := e.Fingerprint.Keys
	var parts []string
	if keys.SerialNumber != "" {
		parts = append(parts, "serial="+keys.SerialNumber)
	}
	if keys.BoardSerial != "" {
		parts = append(parts, "board="+keys.BoardSerial)
	}
	if len(keys.MACs) > 0 {
		parts = append(parts, "macs="+strings.Join(keys.MACs, " "))
	}
	if keys.Hostname != "" {
		parts = append(parts, "hostname="+keys.Hostname)
	}
	if keys.IP != "" {
		parts = append(parts, "ip="+keys.IP)
	}
	if len(parts) == 0 {
		return "(no identity keys)"
	}
	return strings.Join(parts, ", ")
}

func listReviews(ctx context.Context, st *sqlite.Store) error {
	entries, err := st.PendingReviews(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no pending reviews")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("review #%d (pass %s, created %s)\n", e.ID, e.PassID, e.CreatedAt)
		fmt.Printf("  observed: %s\n", describeKeys(e))
		for _, c := range e.Candidates {
			fmt.Printf("  candidate %s confidence %.2f\n", c.DeviceID, c.Confidence)
		}
		for _, d := range e.Conflicts {
			fmt.Printf("  conflict %s: %s -> %s\n", d.Field, d.Old.Display(), d.New.Display())
		}
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func splitSpecs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
