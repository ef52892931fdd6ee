package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"whaleTracker/internal/adapters/logger"
	"whaleTracker/internal/adapters/redisstore"
	"whaleTracker/internal/ports"
	"whaleTracker/internal/utils"
)

func main() {
	_ = godotenv.Load()

	var (
		addr     = flag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
		password = flag.String("password", os.Getenv("REDIS_PASSWORD"), "Redis password")
		db       = flag.Int("db", 0, "Redis database")
		prefix   = flag.String("prefix", "whale", "key prefix used by the tracker")
		account  = flag.String("account", os.Getenv("LIGHTER_ACCOUNT_ID"), "monitored account")
		since    = flag.Duration("since", 15*time.Minute, "export trades executed within this long before -until")
		until    = flag.String("until", "", "end of the range (RFC3339), defaults to now")
		out      = flag.String("out", "", "output CSV file, defaults to stdout")
	)
	flag.Parse()

	if *account == "" {
		log.Fatalf("FATAL: -account (or LIGHTER_ACCOUNT_ID) must be set")
	}
	end := time.Now()
	if *until != "" {
		t, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			log.Fatalf("FATAL: invalid -until: %v", err)
		}
		end = t
	}
	start := end.Add(-*since)

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	rdb := redis.NewClient(&redis.Options{Addr: *addr, Password: *password, DB: *db})
	defer rdb.Close()
	store, err := redisstore.New(redisstore.Config{Client: rdb, KeyPrefix: *prefix, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Redis trade store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("FATAL: Failed to create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}

	n, err := export(ctx, store, *account, start, end, w)
	if err != nil {
		log.Fatalf("FATAL: Export failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d trades for account %s from %s to %s\n", n, *account, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// export writes the trades in [start, end) as CSV and returns how many were written.
func export(ctx context.Context, store ports.TradeStore, account string, start, end time.Time, w io.Writer) (int, error) {
	trades, err := store.Range(ctx, account, start, end)
	if err != nil {
		return 0, err
	}
	if err := utils.WriteTrades(w, trades); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(trades), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
