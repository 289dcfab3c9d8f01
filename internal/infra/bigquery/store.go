// Package bigquery is the warehouse side of the exporter: idempotent
// upserts for accounts, merchants, transactions, and pots, plus the derived
// daily-balance reads used for reconciliation. Schema lives in
// migrations/bigquery and is applied by cmd/migrate.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Store wraps a shared BigQuery client bound to one project and dataset.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close releases the underlying client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

// runDML executes a statement and waits for the job to complete.
func (s *Store) runDML(ctx context.Context, sql string, params []bigquery.QueryParameter) error {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
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

// RowCounts returns the row count per warehouse table.
func (s *Store) RowCounts(ctx context.Context) (map[string]int64, error) {
	tables := []string{"accounts", "merchants", "transactions", "pots"}
	counts := make(map[string]int64, len(tables))

	for _, table := range tables {
		q := s.client.Query(fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table(table)))
		it, err := q.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("RowCounts: %s: %w", table, err)
		}
		var row []bigquery.Value
		err = it.Next(&row)
		if err == iterator.Done {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("RowCounts: %s: iterating: %w", table, err)
		}
		if n, ok := row[0].(int64); ok {
			counts[table] = n
		}
	}
	return counts, nil
}
