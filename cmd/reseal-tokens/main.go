// Command reseal-tokens re-encrypts stored OAuth tokens under the current ENCRYPTION_KEY.
// Tokens stored in plaintext or sealed with a key listed in ENCRYPTION_KEY_PREVIOUS are
// rewritten, after which the previous key can be removed.
//
// Usage:
//
//	reseal-tokens [--dry-run]
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clip-tender/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Show which tokens would be resealed without writing")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	if os.Getenv("ENCRYPTION_KEY") == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}

	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}

	providers, err := db.ResealOAuthTokens(ctx, database, *dryRun)
	if err != nil {
		slog.Error("reseal failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("reseal complete", slog.Int("tokens", len(providers)), slog.Bool("dry_run", *dryRun))
}
