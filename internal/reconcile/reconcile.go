// Package reconcile compares the balances the API reports right now against
// the balances reconstructed from the warehouse's transaction history. A
// mismatch usually means transactions are missing from the store.
package reconcile

import (
	"context"
	"fmt"

	"github.com/dvloznov/monzo-exporter/internal/logger"
	"github.com/dvloznov/monzo-exporter/internal/monzo"
)

// toleranceMinorUnits absorbs sub-unit rounding only; any whole-unit
// difference is reported.
const toleranceMinorUnits = 1

// LiveSource is the slice of the Monzo client reconciliation needs.
type LiveSource interface {
	Accounts(ctx context.Context) ([]monzo.Account, error)
	AccountBalance(ctx context.Context, accountID string) (*monzo.Balance, error)
}

// StoredSource is the warehouse's derived balance read. Satisfied by
// *bigquery.Store.
type StoredSource interface {
	AccountBalances(ctx context.Context) (map[string]int64, error)
}

// Mismatch is one account whose live and stored balances disagree beyond
// the tolerance. All values are minor units.
type Mismatch struct {
	AccountID string
	Live      int64
	Stored    int64
	Diff      int64
}

// Compare reports the accounts whose stored balance differs from the live
// one by at least one minor unit. Accounts missing from stored are compared
// against zero.
func Compare(live, stored map[string]int64) []Mismatch {
	var mismatches []Mismatch
	for accountID, liveBalance := range live {
		storedBalance := stored[accountID]
		diff := liveBalance - storedBalance
		if diff >= toleranceMinorUnits || diff <= -toleranceMinorUnits {
			mismatches = append(mismatches, Mismatch{
				AccountID: accountID,
				Live:      liveBalance,
				Stored:    storedBalance,
				Diff:      diff,
			})
		}
	}
	return mismatches
}

// Verify fetches live balances for all active accounts and compares them
// against the warehouse. Mismatches are returned for reporting; they are
// not errors.
func Verify(ctx context.Context, liveSrc LiveSource, storedSrc StoredSource) ([]Mismatch, error) {
	log := logger.FromContext(ctx)

	accounts, err := liveSrc.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile.Verify: fetching accounts: %w", err)
	}

	live := make(map[string]int64)
	for _, acc := range accounts {
		if acc.Closed {
			continue
		}
		balance, err := liveSrc.AccountBalance(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile.Verify: balance for %s: %w", acc.ID, err)
		}
		live[acc.ID] = balance.Balance
	}

	stored, err := storedSrc.AccountBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile.Verify: stored balances: %w", err)
	}

	mismatches := Compare(live, stored)
	for _, m := range mismatches {
		log.Warn().
			Str("account_id", m.AccountID).
			Float64("live", monzo.MajorUnits(m.Live)).
			Float64("stored", monzo.MajorUnits(m.Stored)).
			Float64("diff", monzo.MajorUnits(m.Diff)).
			Msg("balance mismatch - the store may be missing transactions")
	}
	return mismatches, nil
}
