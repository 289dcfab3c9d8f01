package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

// upsertBatchSize bounds the UNNEST parameter so a multi-year history does
// not hit the request size limit in a single MERGE.
const upsertBatchSize = 2000

type TransactionRow struct {
	ID         string              `bigquery:"id"` // REQUIRED
	AccountID  string              `bigquery:"account_id"`
	MerchantID bigquery.NullString `bigquery:"merchant_id"`

	Created time.Time              `bigquery:"created"` // authoritative ordering key
	Settled bigquery.NullTimestamp `bigquery:"settled"`

	Amount        int64               `bigquery:"amount"` // minor units
	Currency      string              `bigquery:"currency"`
	LocalAmount   bigquery.NullInt64  `bigquery:"local_amount"`
	LocalCurrency bigquery.NullString `bigquery:"local_currency"`

	Description bigquery.NullString `bigquery:"description"`
	Category    bigquery.NullString `bigquery:"category"`
	Notes       bigquery.NullString `bigquery:"notes"`

	MCC               bigquery.NullString `bigquery:"mcc"`
	Scheme            bigquery.NullString `bigquery:"scheme"`
	IsLoad            bool                `bigquery:"is_load"`
	IncludeInSpending bool                `bigquery:"include_in_spending"`
	DeclineReason     bigquery.NullString `bigquery:"decline_reason"`
}

// UpsertTransactions merges transaction rows keyed by transaction ID, in
// batches.
func (s *Store) UpsertTransactions(ctx context.Context, rows []TransactionRow) error {
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertTransactionBatch(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertTransactionBatch(ctx context.Context, rows []TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`
		MERGE %s t
		USING UNNEST(@rows) s
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			account_id = s.account_id,
			merchant_id = s.merchant_id,
			created = s.created,
			settled = s.settled,
			amount = s.amount,
			currency = s.currency,
			local_amount = s.local_amount,
			local_currency = s.local_currency,
			description = s.description,
			category = s.category,
			notes = s.notes,
			mcc = s.mcc,
			scheme = s.scheme,
			is_load = s.is_load,
			include_in_spending = s.include_in_spending,
			decline_reason = s.decline_reason
		WHEN NOT MATCHED THEN
			INSERT (id, account_id, merchant_id, created, settled, amount, currency,
				local_amount, local_currency, description, category, notes,
				mcc, scheme, is_load, include_in_spending, decline_reason)
			VALUES (s.id, s.account_id, s.merchant_id, s.created, s.settled, s.amount, s.currency,
				s.local_amount, s.local_currency, s.description, s.category, s.notes,
				s.mcc, s.scheme, s.is_load, s.include_in_spending, s.decline_reason)
	`, s.table("transactions"))

	params := []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	if err := s.runDML(ctx, sql, params); err != nil {
		return fmt.Errorf("UpsertTransactions: %w", err)
	}
	return nil
}
