package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/ledger"
	"github.com/akagifreeez/tinify-dashboard/pkg/crypto"
	"github.com/akagifreeez/tinify-dashboard/pkg/database"
	"github.com/akagifreeez/tinify-dashboard/pkg/sqlite"
)

// Copies a SQLite ledger into PostgreSQL, or back with -reverse.
func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	sqlitePath := flag.String("sqlite", "", "SQLite ledger path (defaults to LEDGER_SQLITE_PATH)")
	reverse := flag.Bool("reverse", false, "copy PostgreSQL into SQLite instead")
	force := flag.Bool("force", false, "overwrite a destination that already holds keys")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *sqlitePath == "" {
		*sqlitePath = cfg.LedgerSQLitePath
	}

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ENCRYPTION_KEY")
	}

	ctx := context.Background()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	pg, err := database.NewLedgerStore(db, cipher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open PostgreSQL ledger")
	}
	lite, err := sqlite.Open(*sqlitePath, cipher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open SQLite ledger")
	}
	defer lite.Close()

	var src, dst ledger.StateStore = lite, pg
	from, to := "sqlite", "postgres"
	if *reverse {
		src, dst = pg, lite
		from, to = to, from
	}

	n, err := ledger.CopyState(ctx, dst, src, *force)
	if err != nil {
		log.Fatal().Err(err).Str("from", from).Str("to", to).Msg("Ledger copy failed")
	}
	log.Info().Int("keys", n).Str("from", from).Str("to", to).Msg("Ledger copied")
}
