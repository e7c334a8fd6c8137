package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"travel-chat/internal/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found")
	}

	dsn := pflag.String("dsn", os.Getenv("DB_DSN"), "postgres connection string (defaults to DB_DSN)")
	pflag.Parse()

	if *dsn == "" {
		slog.Error("DB_DSN environment variable or --dsn is required")
		os.Exit(1)
	}

	cmd := "up"
	if pflag.NArg() > 0 {
		cmd = pflag.Arg(0)
	}

	switch cmd {
	case "up", "down":
	default:
		slog.Error("unknown command, expected up or down", "command", cmd)
		os.Exit(2)
	}

	if err := db.Migrate(*dsn, cmd == "down"); err != nil {
		slog.Error("migration failed", "command", cmd, "err", err)
		os.Exit(1)
	}
	slog.Info("migration successful", "command", cmd)
}
