package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/monzo-exporter/internal/logger"
	"github.com/dvloznov/monzo-exporter/internal/monzo"
)

// Source is the slice of the Monzo client the aggregator needs. Satisfied by
// *monzo.Client; tests substitute a stub.
type Source interface {
	Accounts(ctx context.Context) ([]monzo.Account, error)
	Pots(ctx context.Context, accountID string) ([]monzo.Pot, error)
	History(ctx context.Context, account monzo.Account, days *int) (*monzo.History, error)
}

// Run exports accounts, pots, and per-account transaction histories into one
// snapshot. days limits the lookback window; nil means full history.
//
// Accounts are processed sequentially: each history fetch owns its own
// seen-ID set and chunk cursor, and the upstream rate limits leave nothing
// to gain from interleaving. Closed accounts appear in the snapshot's
// account list but are not fetched. An SCAExpiredError from any account
// aborts the whole export; truncated histories are recorded and logged, not
// fatal.
func Run(ctx context.Context, src Source, days *int) (*Snapshot, error) {
	log := logger.FromContext(ctx)

	if days != nil {
		log.Info().Int("days", *days).Msg("fetching recent history")
	} else {
		log.Info().Msg("fetching full transaction history")
	}

	accounts, err := src.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("export.Run: fetching accounts: %w", err)
	}

	var active []monzo.Account
	for _, acc := range accounts {
		if !acc.Closed {
			active = append(active, acc)
		}
	}
	log.Info().Int("total", len(accounts)).Int("active", len(active)).Msg("accounts fetched")

	var pots []monzo.Pot
	for _, acc := range active {
		accountPots, err := src.Pots(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("export.Run: fetching pots for %s: %w", acc.ID, err)
		}
		pots = append(pots, accountPots...)
	}
	log.Info().Int("pots", len(pots)).Msg("pots fetched")

	transactions := make(map[string][]monzo.Transaction, len(active))
	var truncated []string
	for _, acc := range active {
		history, err := src.History(ctx, acc, days)
		if err != nil {
			return nil, fmt.Errorf("export.Run: %w", err)
		}
		transactions[acc.ID] = history.Transactions
		if history.Truncated {
			truncated = append(truncated, acc.ID)
		}
		log.Info().
			Str("account_id", acc.ID).
			Str("type", acc.Type).
			Int("transactions", len(history.Transactions)).
			Bool("truncated", history.Truncated).
			Msg("history fetched")
	}

	now := time.Now().UTC()
	var since *time.Time
	if days != nil {
		t := now.AddDate(0, 0, -*days)
		since = &t
	}

	snap := &Snapshot{
		ExportID:          uuid.NewString(),
		ExportedAt:        now,
		Since:             since,
		Days:              days,
		TruncatedAccounts: truncated,
		Accounts:          accounts,
		Pots:              pots,
		Transactions:      transactions,
	}

	log.Info().
		Str("export_id", snap.ExportID).
		Int("transactions", snap.TotalTransactions()).
		Msg("export complete")

	return snap, nil
}
