package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/monzo-exporter/internal/monzo"
)

type stubSource struct {
	accounts []monzo.Account
	pots     map[string][]monzo.Pot
	history  map[string]*monzo.History

	historyErr error
	potsCalls  []string
}

func (s *stubSource) Accounts(ctx context.Context) ([]monzo.Account, error) {
	return s.accounts, nil
}

func (s *stubSource) Pots(ctx context.Context, accountID string) ([]monzo.Pot, error) {
	s.potsCalls = append(s.potsCalls, accountID)
	return s.pots[accountID], nil
}

func (s *stubSource) History(ctx context.Context, account monzo.Account, days *int) (*monzo.History, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	if h, ok := s.history[account.ID]; ok {
		return h, nil
	}
	return &monzo.History{}, nil
}

func TestRunSkipsClosedAccounts(t *testing.T) {
	src := &stubSource{
		accounts: []monzo.Account{
			{ID: "acc_open", Type: "uk_retail"},
			{ID: "acc_closed", Type: "uk_retail", Closed: true},
		},
		history: map[string]*monzo.History{
			"acc_open":   {Transactions: []monzo.Transaction{{ID: "tx_1", AccountID: "acc_open"}}},
			"acc_closed": {Transactions: []monzo.Transaction{{ID: "tx_2", AccountID: "acc_closed"}}},
		},
	}

	snap, err := Run(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Closed accounts stay in the account list but are never fetched.
	if len(snap.Accounts) != 2 {
		t.Errorf("got %d accounts, want 2", len(snap.Accounts))
	}
	if _, ok := snap.Transactions["acc_closed"]; ok {
		t.Error("history fetched for a closed account")
	}
	if len(snap.Transactions["acc_open"]) != 1 {
		t.Errorf("got %d transactions for acc_open, want 1", len(snap.Transactions["acc_open"]))
	}
	for _, id := range src.potsCalls {
		if id == "acc_closed" {
			t.Error("pots fetched for a closed account")
		}
	}
}

func TestRunRecordsTruncatedAccounts(t *testing.T) {
	src := &stubSource{
		accounts: []monzo.Account{{ID: "acc_1"}, {ID: "acc_2"}},
		history: map[string]*monzo.History{
			"acc_1": {Transactions: []monzo.Transaction{{ID: "tx_1", AccountID: "acc_1"}}},
			"acc_2": {Transactions: []monzo.Transaction{{ID: "tx_2", AccountID: "acc_2"}}, Truncated: true},
		},
	}

	snap, err := Run(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snap.TruncatedAccounts) != 1 || snap.TruncatedAccounts[0] != "acc_2" {
		t.Errorf("TruncatedAccounts = %v, want [acc_2]", snap.TruncatedAccounts)
	}
}

func TestRunPropagatesHistoryErrors(t *testing.T) {
	scaErr := &monzo.SCAExpiredError{AccountID: "acc_1"}
	src := &stubSource{
		accounts:   []monzo.Account{{ID: "acc_1"}},
		historyErr: scaErr,
	}

	_, err := Run(context.Background(), src, nil)
	if err == nil {
		t.Fatal("Run succeeded, want error")
	}
	var got *monzo.SCAExpiredError
	if !errors.As(err, &got) {
		t.Errorf("error = %v, want *monzo.SCAExpiredError", err)
	}
}

func TestRunWindowMetadata(t *testing.T) {
	src := &stubSource{accounts: []monzo.Account{{ID: "acc_1"}}}
	days := 30

	snap, err := Run(context.Background(), src, &days)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.Days == nil || *snap.Days != 30 {
		t.Errorf("Days = %v, want 30", snap.Days)
	}
	if snap.Since == nil {
		t.Fatal("Since = nil for a windowed export")
	}
	wantSince := time.Now().UTC().AddDate(0, 0, -30)
	if diff := snap.Since.Sub(wantSince); diff < -time.Minute || diff > time.Minute {
		t.Errorf("Since = %s, want about %s", snap.Since, wantSince)
	}
	if snap.ExportID == "" {
		t.Error("ExportID is empty")
	}
}
