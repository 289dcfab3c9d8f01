package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

type AccountRow struct {
	ID          string                 `bigquery:"id"` // REQUIRED
	Type        string                 `bigquery:"type"`
	Description bigquery.NullString    `bigquery:"description"`
	Created     bigquery.NullTimestamp `bigquery:"created"`
	Closed      bool                   `bigquery:"closed"`
	Currency    string                 `bigquery:"currency"`
}

// UpsertAccounts merges account rows keyed by natural ID: a second call with
// the same ID overwrites rather than duplicates.
func (s *Store) UpsertAccounts(ctx context.Context, rows []AccountRow) error {
	if len(rows) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`
		MERGE %s t
		USING UNNEST(@rows) s
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			type = s.type,
			description = s.description,
			created = s.created,
			closed = s.closed,
			currency = s.currency
		WHEN NOT MATCHED THEN
			INSERT (id, type, description, created, closed, currency)
			VALUES (s.id, s.type, s.description, s.created, s.closed, s.currency)
	`, s.table("accounts"))

	params := []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	if err := s.runDML(ctx, sql, params); err != nil {
		return fmt.Errorf("UpsertAccounts: %w", err)
	}
	return nil
}
