package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"whaleTracker/internal/adapters/logger"
	"whaleTracker/internal/adapters/sqlite"
)

const usage = `Usage: subscribers [-db path] <command> [args]

Commands:
  add <recipient_id> <push_key>   add a subscriber or replace its push key
  remove <recipient_id>           remove a subscriber and its cooldown
  list                            list subscribers with their last notification
  count                           print the number of subscribers
`

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("subscribers", flag.ExitOnError)
	dbPath := fs.String("db", envOr("DB_PATH", "./data/whale_tracker.db"), "path to the subscriber database")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	level := logger.LevelWarn
	if *verbose {
		level = logger.LevelDebug
	}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: logger.NewStdLogger(level)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := run(context.Background(), repo, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		repo.Close()
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments")

func run(ctx context.Context, repo *sqlite.Repository, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "add":
		if len(args) != 3 {
			return errUsage
		}
		id, err := parseRecipient(args[1])
		if err != nil {
			return err
		}
		if err := repo.UpsertSubscriber(ctx, id, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Subscriber %d saved\n", id)
	case "remove":
		if len(args) != 2 {
			return errUsage
		}
		id, err := parseRecipient(args[1])
		if err != nil {
			return err
		}
		removed, err := repo.DeleteSubscriber(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(out, "Subscriber %d not found\n", id)
			return nil
		}
		fmt.Fprintf(out, "Subscriber %d removed\n", id)
	case "list":
		subs, err := repo.ListSubscribers(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RECIPIENT\tSUBSCRIBED\tLAST NOTIFIED")
		for _, s := range subs {
			last := "never"
			if s.LastNotifiedAt != nil {
				last = s.LastNotifiedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.RecipientID, s.CreatedAt.UTC().Format(time.RFC3339), last)
		}
		return tw.Flush()
	case "count":
		n, err := repo.CountSubscribers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, n)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	return nil
}

func parseRecipient(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid recipient id '%s': %w", s, err)
	}
	return id, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
