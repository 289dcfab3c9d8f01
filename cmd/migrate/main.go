package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/monzo-exporter/internal/logger"
)

// migrationPattern matches migration filenames like 0001_initial_schema.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

type appliedMigration struct {
	Version  int
	Name     string
	Checksum string
}

type runner struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
	log       zerolog.Logger
}

func main() {
	projectID := flag.String("project", "", "GCP project ID (required)")
	datasetID := flag.String("dataset", "monzo", "BigQuery dataset ID")
	appliedBy := flag.String("applied-by", "migrate-cli", "name recorded against applied migrations")
	migrationsDir := flag.String("migrations", "migrations/bigquery", "path to the migrations directory")
	flag.Parse()

	log := logger.New()

	if *projectID == "" {
		log.Fatal().Msg("-project is required")
	}

	ctx := context.Background()

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("creating BigQuery client failed")
	}
	defer client.Close()

	r := &runner{
		client:    client,
		projectID: *projectID,
		datasetID: *datasetID,
		appliedBy: *appliedBy,
		log:       log,
	}

	if err := r.run(ctx, *migrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migration run failed")
	}
}

func (r *runner) run(ctx context.Context, dir string) error {
	r.log.Info().Str("project", r.projectID).Str("dataset", r.datasetID).Msg("connected to BigQuery")

	if err := r.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("run: ensuring schema_migrations table: %w", err)
	}

	migrations, err := r.readMigrations(dir)
	if err != nil {
		return fmt.Errorf("run: reading migrations: %w", err)
	}
	r.log.Info().Int("count", len(migrations)).Msg("found migration files")

	applied, err := r.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("run: reading applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]appliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	ran := 0
	for _, m := range migrations {
		if am, ok := appliedByVersion[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				return fmt.Errorf("run: migration %04d_%s changed after being applied (checksum mismatch)", m.Version, m.Name)
			}
			r.log.Info().Str("migration", fmt.Sprintf("%04d_%s", m.Version, m.Name)).Msg("already applied, skipping")
			continue
		}

		r.log.Info().Str("migration", fmt.Sprintf("%04d_%s", m.Version, m.Name)).Msg("applying")
		started := time.Now()

		if err := r.execute(ctx, m.SQL, nil); err != nil {
			return fmt.Errorf("run: applying %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := r.record(ctx, m); err != nil {
			return fmt.Errorf("run: recording %04d_%s: %w", m.Version, m.Name, err)
		}

		r.log.Info().
			Str("migration", fmt.Sprintf("%04d_%s", m.Version, m.Name)).
			Dur("took", time.Since(started)).
			Msg("applied")
		ran++
	}

	if ran == 0 {
		r.log.Info().Msg("no new migrations, schema is up to date")
	} else {
		r.log.Info().Int("count", ran).Msg("migrations applied")
	}
	return nil
}

func (r *runner) ensureMigrationsTable(ctx context.Context) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version    INT64 NOT NULL,
			name       STRING NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			checksum   STRING,
			applied_by STRING
		)
	`, r.projectID, r.datasetID)

	return r.execute(ctx, sql, nil)
}

// readMigrations loads migration files sorted by version. Placeholders
// {{PROJECT_ID}} and {{DATASET_ID}} are substituted before execution, but
// checksums are taken over the raw file so the same migration applies to
// any project without being flagged as changed.
func (r *runner) readMigrations(dir string) ([]migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Allow running from cmd/migrate during development.
		alt := filepath.Join("..", "..", dir)
		if _, err := os.Stat(alt); os.IsNotExist(err) {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = alt
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			r.log.Warn().Str("file", entry.Name()).Msg("skipping file that does not match NNNN_name.sql")
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("parsing version of %s: %w", entry.Name(), err)
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(raw), "{{PROJECT_ID}}", r.projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", r.datasetID)

		migrations = append(migrations, migration{
			Version:  version,
			Name:     matches[2],
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(raw)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (r *runner) appliedMigrations(ctx context.Context) ([]appliedMigration, error) {
	sql := fmt.Sprintf(`
		SELECT version, name, checksum
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, r.projectID, r.datasetID)

	it, err := r.client.Query(sql).Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("querying: %w", err)
	}

	var applied []appliedMigration
	for {
		var row struct {
			Version  int64
			Name     string
			Checksum bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}
		applied = append(applied, appliedMigration{
			Version:  int(row.Version),
			Name:     row.Name,
			Checksum: row.Checksum.StringVal,
		})
	}
	return applied, nil
}

func (r *runner) record(ctx context.Context, m migration) error {
	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, r.projectID, r.datasetID)

	return r.execute(ctx, sql, []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: r.appliedBy},
	})
}

func (r *runner) execute(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	query := r.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
