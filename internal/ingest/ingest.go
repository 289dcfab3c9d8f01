// Package ingest loads an export snapshot into the warehouse: models are
// mapped to rows (merchants normalized out of the transactions) and upserted
// by natural ID, so re-ingesting the same snapshot is a no-op.
package ingest

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/monzo-exporter/internal/export"
	infra "github.com/dvloznov/monzo-exporter/internal/infra/bigquery"
	"github.com/dvloznov/monzo-exporter/internal/logger"
	"github.com/dvloznov/monzo-exporter/internal/monzo"
)

// Warehouse is the slice of the store the loader needs. Satisfied by
// *infra.Store; tests substitute a mock.
type Warehouse interface {
	UpsertAccounts(ctx context.Context, rows []infra.AccountRow) error
	UpsertMerchants(ctx context.Context, rows []infra.MerchantRow) error
	UpsertTransactions(ctx context.Context, rows []infra.TransactionRow) error
	UpsertPots(ctx context.Context, rows []infra.PotRow) error
}

// Counts reports how many rows of each kind were loaded.
type Counts struct {
	Accounts     int
	Merchants    int
	Transactions int
	Pots         int
}

type Loader struct {
	warehouse Warehouse
}

func NewLoader(warehouse Warehouse) *Loader {
	return &Loader{warehouse: warehouse}
}

// Load upserts the snapshot's contents in dependency order: accounts and
// merchants first, then the transactions that reference them, then pots.
func (l *Loader) Load(ctx context.Context, snap *export.Snapshot) (Counts, error) {
	log := logger.FromContext(ctx)

	if err := snap.Validate(); err != nil {
		return Counts{}, fmt.Errorf("Load: %w", err)
	}

	accountRows := make([]infra.AccountRow, 0, len(snap.Accounts))
	for _, acc := range snap.Accounts {
		accountRows = append(accountRows, accountRow(acc))
	}
	if err := l.warehouse.UpsertAccounts(ctx, accountRows); err != nil {
		return Counts{}, fmt.Errorf("Load: %w", err)
	}
	log.Info().Int("rows", len(accountRows)).Msg("accounts loaded")

	merchants := snap.Merchants()
	merchantRows := make([]infra.MerchantRow, 0, len(merchants))
	for _, id := range sortedKeys(merchants) {
		merchantRows = append(merchantRows, merchantRow(merchants[id]))
	}
	if err := l.warehouse.UpsertMerchants(ctx, merchantRows); err != nil {
		return Counts{}, fmt.Errorf("Load: %w", err)
	}
	log.Info().Int("rows", len(merchantRows)).Msg("merchants loaded")

	txs := snap.AllTransactions()
	txRows := make([]infra.TransactionRow, 0, len(txs))
	for _, tx := range txs {
		txRows = append(txRows, transactionRow(tx))
	}
	if err := l.warehouse.UpsertTransactions(ctx, txRows); err != nil {
		return Counts{}, fmt.Errorf("Load: %w", err)
	}
	log.Info().Int("rows", len(txRows)).Msg("transactions loaded")

	potRows := make([]infra.PotRow, 0, len(snap.Pots))
	for _, pot := range snap.Pots {
		potRows = append(potRows, potRow(pot))
	}
	if err := l.warehouse.UpsertPots(ctx, potRows); err != nil {
		return Counts{}, fmt.Errorf("Load: %w", err)
	}
	log.Info().Int("rows", len(potRows)).Msg("pots loaded")

	return Counts{
		Accounts:     len(accountRows),
		Merchants:    len(merchantRows),
		Transactions: len(txRows),
		Pots:         len(potRows),
	}, nil
}

func accountRow(acc monzo.Account) infra.AccountRow {
	row := infra.AccountRow{
		ID:          acc.ID,
		Type:        acc.Type,
		Description: nullString(acc.Description),
		Closed:      acc.Closed,
		Currency:    acc.Currency,
	}
	if acc.Created != nil {
		row.Created = bigquery.NullTimestamp{Timestamp: acc.Created.UTC(), Valid: true}
	}
	return row
}

func merchantRow(m monzo.Merchant) infra.MerchantRow {
	row := infra.MerchantRow{
		ID:       m.ID,
		GroupID:  nullString(m.GroupID),
		Name:     nullString(m.Name),
		Category: nullString(m.Category),
		Emoji:    nullString(m.Emoji),
		LogoURL:  nullString(m.Logo),
		Online:   m.Online,
		ATM:      m.ATM,
	}
	if addr := m.Address; addr != nil {
		row.Address = nullString(addr.Formatted)
		row.City = nullString(addr.City)
		row.Region = nullString(addr.Region)
		row.Country = nullString(addr.Country)
		row.Postcode = nullString(addr.Postcode)
		row.Latitude = bigquery.NullFloat64{Float64: addr.Latitude, Valid: true}
		row.Longitude = bigquery.NullFloat64{Float64: addr.Longitude, Valid: true}
	}
	return row
}

func transactionRow(tx monzo.Transaction) infra.TransactionRow {
	row := infra.TransactionRow{
		ID:                tx.ID,
		AccountID:         tx.AccountID,
		MerchantID:        nullString(tx.MerchantID()),
		Created:           tx.Created.UTC(),
		Amount:            tx.Amount,
		Currency:          tx.Currency,
		LocalCurrency:     nullString(tx.LocalCurrency),
		Description:       nullString(tx.Description),
		Category:          nullString(tx.Category),
		Notes:             nullString(tx.Notes),
		MCC:               nullString(tx.MCC()),
		Scheme:            nullString(tx.Scheme),
		IsLoad:            tx.IsLoad,
		IncludeInSpending: tx.IncludeInSpending,
		DeclineReason:     nullString(tx.DeclineReason),
	}
	if tx.Settled.Valid {
		row.Settled = bigquery.NullTimestamp{Timestamp: tx.Settled.Time.UTC(), Valid: true}
	}
	if tx.LocalAmount != nil {
		row.LocalAmount = bigquery.NullInt64{Int64: *tx.LocalAmount, Valid: true}
	}
	return row
}

func potRow(pot monzo.Pot) infra.PotRow {
	row := infra.PotRow{
		ID:        pot.ID,
		AccountID: pot.CurrentAccountID,
		Name:      nullString(pot.Name),
		Style:     nullString(pot.Style),
		Balance:   pot.Balance,
		Currency:  pot.Currency,
		Deleted:   pot.Deleted,
	}
	if pot.GoalAmount != nil {
		row.Goal = bigquery.NullInt64{Int64: *pot.GoalAmount, Valid: true}
	}
	if pot.Created != nil {
		row.Created = bigquery.NullTimestamp{Timestamp: pot.Created.UTC(), Valid: true}
	}
	if pot.Updated != nil {
		row.Updated = bigquery.NullTimestamp{Timestamp: pot.Updated.UTC(), Valid: true}
	}
	return row
}

func nullString(s string) bigquery.NullString {
	if s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}

func sortedKeys(m map[string]monzo.Merchant) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
