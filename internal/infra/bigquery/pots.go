package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

type PotRow struct {
	ID        string              `bigquery:"id"` // REQUIRED
	AccountID string              `bigquery:"account_id"`
	Name      bigquery.NullString `bigquery:"name"`
	Style     bigquery.NullString `bigquery:"style"`

	Balance  int64              `bigquery:"balance"` // minor units
	Goal     bigquery.NullInt64 `bigquery:"goal"`
	Currency string             `bigquery:"currency"`

	Created bigquery.NullTimestamp `bigquery:"created"`
	Updated bigquery.NullTimestamp `bigquery:"updated"`
	Deleted bool                   `bigquery:"deleted"`
}

// UpsertPots merges pot rows keyed by pot ID.
func (s *Store) UpsertPots(ctx context.Context, rows []PotRow) error {
	if len(rows) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`
		MERGE %s t
		USING UNNEST(@rows) s
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			account_id = s.account_id,
			name = s.name,
			style = s.style,
			balance = s.balance,
			goal = s.goal,
			currency = s.currency,
			created = s.created,
			updated = s.updated,
			deleted = s.deleted
		WHEN NOT MATCHED THEN
			INSERT (id, account_id, name, style, balance, goal, currency, created, updated, deleted)
			VALUES (s.id, s.account_id, s.name, s.style, s.balance, s.goal, s.currency, s.created, s.updated, s.deleted)
	`, s.table("pots"))

	params := []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	if err := s.runDML(ctx, sql, params); err != nil {
		return fmt.Errorf("UpsertPots: %w", err)
	}
	return nil
}
