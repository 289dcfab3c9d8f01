package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-exporter/internal/archive"
	"github.com/dvloznov/monzo-exporter/internal/config"
	"github.com/dvloznov/monzo-exporter/internal/export"
	infra "github.com/dvloznov/monzo-exporter/internal/infra/bigquery"
	"github.com/dvloznov/monzo-exporter/internal/ingest"
	"github.com/dvloznov/monzo-exporter/internal/logger"
	"github.com/dvloznov/monzo-exporter/internal/monzo"
	"github.com/dvloznov/monzo-exporter/internal/reconcile"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "auth":
		runAuth(log)
	case "export":
		runExport(log)
	case "ingest":
		runIngest(log)
	case "verify":
		runVerify(log)
	case "balances":
		runBalances(log)
	case "status":
		runStatus(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Monzo exporter")
	fmt.Println("\nUsage:")
	fmt.Println("  monzo <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  auth      Authenticate with Monzo and store an access token")
	fmt.Println("  export    Export accounts, pots, and transactions, then load the warehouse")
	fmt.Println("  ingest    Load a saved snapshot (local path or gs:// URI) into the warehouse")
	fmt.Println("  verify    Compare live API balances against the warehouse")
	fmt.Println("  balances  Print the reconstructed daily balance series for an account")
	fmt.Println("  status    Show token, snapshot, and warehouse state")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'monzo <command> -h' for more information on a command.")
}

func mustLoadConfig(log zerolog.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration failed")
	}
	return cfg
}

func runAuth(log zerolog.Logger) {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	force := fs.Bool("force", false, "discard any existing token and authenticate from scratch")
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(log)
	if err := cfg.RequireOAuth(); err != nil {
		log.Fatal().Err(err).Msg("auth is not configured")
	}

	if *force {
		if err := os.Remove(cfg.Paths.TokenFile); err == nil {
			log.Info().Str("path", cfg.Paths.TokenFile).Msg("removed existing token")
		}
	}

	ctx := logger.WithContext(context.Background(), log)
	auth := monzo.NewAuthenticator(cfg.Monzo.ClientID, cfg.Monzo.ClientSecret)

	token, err := auth.Authorize(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("authorization failed")
	}
	if err := token.Save(cfg.Paths.TokenFile); err != nil {
		log.Fatal().Err(err).Msg("saving token failed")
	}

	log.Info().Str("path", cfg.Paths.TokenFile).Msg("token saved")
	log.Info().Msg("approve access in the Monzo app if you haven't - full-history access lasts ~5 minutes, so export soon")
}

func runExport(log zerolog.Logger) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	days := fs.Int("days", 0, "days of history to fetch (0 = full history)")
	noIngest := fs.Bool("no-ingest", false, "skip the warehouse load, snapshot only")
	out := fs.String("out", "", "snapshot path (defaults to MONZO_SNAPSHOT_FILE)")
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(log)
	ctx := logger.WithContext(context.Background(), log)

	token, err := monzo.LoadToken(cfg.Paths.TokenFile)
	if err != nil {
		log.Fatal().Err(err).Msg("no usable token")
	}
	client := monzo.NewClient(token.AccessToken)

	var daysPtr *int
	if *days > 0 {
		daysPtr = days
	}

	snap, err := export.Run(ctx, client, daysPtr)
	if err != nil {
		log.Fatal().Err(err).Msg("export failed")
	}

	path := cfg.Paths.SnapshotFile
	if *out != "" {
		path = *out
	}
	if err := snap.Save(path); err != nil {
		log.Fatal().Err(err).Msg("saving snapshot failed")
	}
	log.Info().Str("path", path).Msg("snapshot saved")

	if bucket := cfg.Warehouse.SnapshotBucket; bucket != "" {
		object := archive.ObjectName(snap.ExportedAt)
		if err := archive.Upload(ctx, bucket, object, path); err != nil {
			log.Fatal().Err(err).Msg("archiving snapshot failed")
		}
		log.Info().Str("uri", fmt.Sprintf("gs://%s/%s", bucket, object)).Msg("snapshot archived")
	}

	if *noIngest {
		log.Info().Msg("skipping warehouse load (-no-ingest)")
		return
	}

	store := mustOpenStore(ctx, log, cfg)
	defer store.Close()

	loadSnapshot(ctx, log, store, snap)

	mismatches, err := reconcile.Verify(ctx, client, store)
	if err != nil {
		log.Fatal().Err(err).Msg("balance verification failed")
	}
	if len(mismatches) == 0 {
		log.Info().Msg("balances verified")
	}
}

func runIngest(log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(log)
	ctx := logger.WithContext(context.Background(), log)

	path := cfg.Paths.SnapshotFile
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	var (
		snap *export.Snapshot
		err  error
	)
	if archive.IsURI(path) {
		var data []byte
		data, err = archive.Fetch(ctx, path)
		if err == nil {
			snap, err = export.Parse(data)
		}
	} else {
		snap, err = export.Load(path)
	}
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("reading snapshot failed")
	}

	store := mustOpenStore(ctx, log, cfg)
	defer store.Close()

	loadSnapshot(ctx, log, store, snap)
}

func runVerify(log zerolog.Logger) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(log)
	ctx := logger.WithContext(context.Background(), log)

	token, err := monzo.LoadToken(cfg.Paths.TokenFile)
	if err != nil {
		log.Fatal().Err(err).Msg("no usable token")
	}
	client := monzo.NewClient(token.AccessToken)

	store := mustOpenStore(ctx, log, cfg)
	defer store.Close()

	mismatches, err := reconcile.Verify(ctx, client, store)
	if err != nil {
		log.Fatal().Err(err).Msg("balance verification failed")
	}
	if len(mismatches) > 0 {
		os.Exit(1)
	}
	log.Info().Msg("balances verified")
}

func runBalances(log zerolog.Logger) {
	fs := flag.NewFlagSet("balances", flag.ExitOnError)
	accountID := fs.String("account", "", "account ID (required)")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		log.Fatal().Msg("-account is required")
	}

	cfg := mustLoadConfig(log)
	ctx := logger.WithContext(context.Background(), log)

	store := mustOpenStore(ctx, log, cfg)
	defer store.Close()

	rows, err := store.DailyBalances(ctx, *accountID)
	if err != nil {
		log.Fatal().Err(err).Msg("querying daily balances failed")
	}
	for _, row := range rows {
		fmt.Printf("%s  net %+.2f  eod %.2f\n", row.Date, monzo.MajorUnits(row.DailyNet), monzo.MajorUnits(row.EODBalance))
	}
}

func runStatus(log zerolog.Logger) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	cfg := mustLoadConfig(log)
	ctx := logger.WithContext(context.Background(), log)

	token, err := monzo.LoadToken(cfg.Paths.TokenFile)
	if err != nil {
		log.Info().Msg("token: not found (run 'monzo auth')")
	} else {
		identity, err := monzo.NewClient(token.AccessToken).WhoAmI(ctx)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("token: present but rejected by the API")
		case identity.Authenticated:
			log.Info().Str("user_id", identity.UserID).Msg("token: valid")
		default:
			log.Info().Msg("token: present but no longer authenticated")
		}
	}

	if snap, err := export.Load(cfg.Paths.SnapshotFile); err != nil {
		log.Info().Msg("snapshot: not found")
	} else {
		log.Info().
			Str("exported_at", snap.ExportedAt.Format("2006-01-02 15:04:05")).
			Int("accounts", len(snap.Accounts)).
			Int("pots", len(snap.Pots)).
			Int("transactions", snap.TotalTransactions()).
			Msg("snapshot")
	}

	if err := cfg.RequireWarehouse(); err != nil {
		log.Info().Msg("warehouse: not configured")
		return
	}
	store, err := infra.NewStore(ctx, cfg.Warehouse.ProjectID, cfg.Warehouse.DatasetID)
	if err != nil {
		log.Warn().Err(err).Msg("warehouse: unreachable")
		return
	}
	defer store.Close()

	counts, err := store.RowCounts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("warehouse: querying row counts failed")
		return
	}
	for _, table := range []string{"accounts", "merchants", "transactions", "pots"} {
		log.Info().Str("table", table).Int64("rows", counts[table]).Msg("warehouse")
	}
}

func mustOpenStore(ctx context.Context, log zerolog.Logger, cfg *config.Config) *infra.Store {
	if err := cfg.RequireWarehouse(); err != nil {
		log.Fatal().Err(err).Msg("warehouse is not configured")
	}
	store, err := infra.NewStore(ctx, cfg.Warehouse.ProjectID, cfg.Warehouse.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to the warehouse failed")
	}
	return store
}

func loadSnapshot(ctx context.Context, log zerolog.Logger, store *infra.Store, snap *export.Snapshot) {
	loader := ingest.NewLoader(store)
	counts, err := loader.Load(ctx, snap)
	if err != nil {
		log.Fatal().Err(err).Msg("warehouse load failed")
	}
	log.Info().
		Int("accounts", counts.Accounts).
		Int("merchants", counts.Merchants).
		Int("transactions", counts.Transactions).
		Int("pots", counts.Pots).
		Msg("warehouse load complete")
}
