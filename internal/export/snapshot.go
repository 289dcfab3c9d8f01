package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/monzo-exporter/internal/monzo"
)

// Snapshot is one complete, versioned export of accounts, pots, and
// transactions at a point in time. It is immutable once assembled: it is
// either serialized to disk or handed to the warehouse loader, never
// mutated.
type Snapshot struct {
	ExportID   string    `json:"export_id"`
	ExportedAt time.Time `json:"exported_at"`

	// Since/Days describe the requested lookback window; both nil means
	// full history.
	Since *time.Time `json:"since"`
	Days  *int       `json:"days"`

	// TruncatedAccounts lists accounts whose history was cut short by
	// authorization decay. Empty means every history is complete.
	TruncatedAccounts []string `json:"truncated_accounts,omitempty"`

	Accounts []monzo.Account `json:"accounts"`
	Pots     []monzo.Pot     `json:"pots"`

	// Transactions is keyed by account ID; each list is sorted ascending
	// by creation time with no duplicate IDs.
	Transactions map[string][]monzo.Transaction `json:"transactions"`
}

// AllTransactions flattens the per-account lists.
func (s *Snapshot) AllTransactions() []monzo.Transaction {
	var all []monzo.Transaction
	for _, txs := range s.Transactions {
		all = append(all, txs...)
	}
	return all
}

// TotalTransactions counts transactions across all accounts.
func (s *Snapshot) TotalTransactions() int {
	total := 0
	for _, txs := range s.Transactions {
		total += len(txs)
	}
	return total
}

// Merchants extracts the unique expanded merchants referenced by the
// snapshot's transactions, keyed by merchant ID.
func (s *Snapshot) Merchants() map[string]monzo.Merchant {
	merchants := make(map[string]monzo.Merchant)
	for _, txs := range s.Transactions {
		for _, tx := range txs {
			if tx.Merchant.Expanded != nil {
				merchants[tx.Merchant.ID] = *tx.Merchant.Expanded
			}
		}
	}
	return merchants
}

// Validate checks the snapshot invariants: every transaction sits under its
// own account's key, and IDs are unique within each account's list.
func (s *Snapshot) Validate() error {
	for accountID, txs := range s.Transactions {
		ids := make(map[string]struct{}, len(txs))
		for _, tx := range txs {
			if tx.AccountID != accountID {
				return fmt.Errorf("snapshot: transaction %s stored under account %s but belongs to %s",
					tx.ID, accountID, tx.AccountID)
			}
			if _, dup := ids[tx.ID]; dup {
				return fmt.Errorf("snapshot: duplicate transaction %s under account %s", tx.ID, accountID)
			}
			ids[tx.ID] = struct{}{}
		}
	}
	return nil
}

// Save writes the snapshot as indented JSON.
func (s *Snapshot) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("Snapshot.Save: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("Snapshot.Save: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot from disk.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export.Load: %w", err)
	}
	return Parse(data)
}

// Parse decodes snapshot JSON, e.g. bytes fetched from the archive bucket.
func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("export.Parse: %w", err)
	}
	return &snap, nil
}
