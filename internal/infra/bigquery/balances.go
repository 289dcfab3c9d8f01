package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"
)

// DailyBalanceRow is one day of the daily_balances view: net change and
// running end-of-day balance for an account, declined transactions excluded.
type DailyBalanceRow struct {
	Date       civil.Date `bigquery:"date"`
	AccountID  string     `bigquery:"account_id"`
	DailyNet   int64      `bigquery:"daily_net"`
	EODBalance int64      `bigquery:"eod_balance"`
}

// DailyBalances returns the reconstructed balance series for one account,
// ascending by date.
func (s *Store) DailyBalances(ctx context.Context, accountID string) ([]DailyBalanceRow, error) {
	sql := fmt.Sprintf(`
		SELECT date, account_id, daily_net, eod_balance
		FROM %s
		WHERE account_id = @account_id
		ORDER BY date
	`, s.table("daily_balances"))

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "account_id", Value: accountID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("DailyBalances: reading query: %w", err)
	}

	var rows []DailyBalanceRow
	for {
		var row DailyBalanceRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DailyBalances: iterating: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AccountBalances returns the latest end-of-day balance per account, in
// minor units. This is the reconciliation oracle compared against the live
// API balance.
func (s *Store) AccountBalances(ctx context.Context) (map[string]int64, error) {
	sql := fmt.Sprintf(`
		SELECT account_id, eod_balance
		FROM %s
		QUALIFY ROW_NUMBER() OVER (PARTITION BY account_id ORDER BY date DESC) = 1
	`, s.table("daily_balances"))

	it, err := s.client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("AccountBalances: reading query: %w", err)
	}

	balances := make(map[string]int64)
	for {
		var row struct {
			AccountID  string `bigquery:"account_id"`
			EODBalance int64  `bigquery:"eod_balance"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AccountBalances: iterating: %w", err)
		}
		balances[row.AccountID] = row.EODBalance
	}
	return balances, nil
}
