package monzo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// stubAPI serves /transactions from a fixed in-memory ledger, honouring
// since/before/limit the way the real API does, including the 400 on
// windows of 365 days or more.
type stubAPI struct {
	t   *testing.T
	mu  sync.Mutex
	txs []Transaction // ascending by Created

	// denyAfter returns 403 on every /transactions request past the
	// first N; zero means never. denyAll rejects even the first.
	denyAfter int
	denyAll   bool
	// rejectBefore rejects (400) any request whose since falls before
	// this instant, independent of window size.
	rejectBefore time.Time

	calls      int
	firstSince string
}

func (s *stubAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" {
			http.NotFound(w, r)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		q := r.URL.Query()
		if q.Get("account_id") == "" {
			s.t.Error("missing account_id parameter")
		}
		if got := q.Get("limit"); got != "100" {
			s.t.Errorf("limit = %s, want 100", got)
		}

		since, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			s.t.Errorf("unparseable since %q: %v", q.Get("since"), err)
		}
		before, err := time.Parse(time.RFC3339, q.Get("before"))
		if err != nil {
			s.t.Errorf("unparseable before %q: %v", q.Get("before"), err)
		}

		s.calls++
		if s.firstSince == "" {
			s.firstSince = q.Get("since")
		}

		if before.Sub(since) >= 365*24*time.Hour {
			http.Error(w, `{"code":"bad_request.invalid_date_range"}`, http.StatusBadRequest)
			return
		}
		if !s.rejectBefore.IsZero() && since.Before(s.rejectBefore) {
			http.Error(w, `{"code":"bad_request"}`, http.StatusBadRequest)
			return
		}
		if s.denyAll || (s.denyAfter > 0 && s.calls > s.denyAfter) {
			http.Error(w, `{"code":"forbidden.insufficient_permissions"}`, http.StatusForbidden)
			return
		}

		limit, _ := strconv.Atoi(q.Get("limit"))
		var page []Transaction
		for _, tx := range s.txs {
			if tx.Created.Before(since) || !tx.Created.Before(before) {
				continue
			}
			page = append(page, tx)
			if len(page) == limit {
				break
			}
		}
		json.NewEncoder(w).Encode(map[string][]Transaction{"transactions": page})
	}
}

func newStubClient(t *testing.T, stub *stubAPI) *Client {
	t.Helper()
	stub.t = t
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)
	return NewClient("test-token", WithBaseURL(server.URL))
}

func makeTransactions(n int, start time.Time, gap time.Duration) []Transaction {
	txs := make([]Transaction, n)
	for i := range txs {
		txs[i] = Transaction{
			ID:        fmt.Sprintf("tx_%05d", i),
			AccountID: "acc_test",
			Amount:    -100,
			Currency:  "GBP",
			Created:   start.Add(time.Duration(i) * gap),
		}
	}
	return txs
}

func testAccount(created time.Time) Account {
	// Whole seconds keep chunk boundaries exact: the API bounds are
	// formatted at second precision.
	created = created.Truncate(time.Second)
	return Account{ID: "acc_test", Type: "uk_retail", Created: &created, Currency: "GBP"}
}

func checkHistory(t *testing.T, got *History, want []Transaction) {
	t.Helper()
	if len(got.Transactions) != len(want) {
		t.Fatalf("got %d transactions, want %d", len(got.Transactions), len(want))
	}
	seen := make(map[string]struct{}, len(got.Transactions))
	for i, tx := range got.Transactions {
		if _, dup := seen[tx.ID]; dup {
			t.Errorf("duplicate transaction %s", tx.ID)
		}
		seen[tx.ID] = struct{}{}
		if i > 0 && tx.Created.Before(got.Transactions[i-1].Created) {
			t.Errorf("transactions not sorted ascending at index %d", i)
		}
	}
	for _, tx := range want {
		if _, ok := seen[tx.ID]; !ok {
			t.Errorf("missing transaction %s", tx.ID)
		}
	}
}

func TestHistoryEmptyAccount(t *testing.T) {
	client := newStubClient(t, &stubAPI{})
	account := testAccount(time.Now().UTC().AddDate(0, 0, -30))

	got, err := client.History(context.Background(), account, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got.Transactions) != 0 {
		t.Errorf("got %d transactions, want 0", len(got.Transactions))
	}
	if got.Truncated {
		t.Error("Truncated = true for a clean fetch")
	}
}

func TestHistoryMultiPage(t *testing.T) {
	now := time.Now().UTC()
	txs := makeTransactions(350, now.AddDate(0, 0, -20), 30*time.Minute)
	client := newStubClient(t, &stubAPI{txs: txs})
	account := testAccount(now.AddDate(0, 0, -60))

	got, err := client.History(context.Background(), account, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	checkHistory(t, got, txs)
	if got.Truncated {
		t.Error("Truncated = true for a clean fetch")
	}
}

func TestHistoryMultiYear(t *testing.T) {
	// 800 days of history forces multiple chunks: the stub rejects any
	// window of 365 days or more, so a single-window fetch cannot pass.
	now := time.Now().UTC()
	created := now.AddDate(0, 0, -800)
	txs := makeTransactions(250, created.Add(12*time.Hour), 72*time.Hour)
	client := newStubClient(t, &stubAPI{txs: txs})

	got, err := client.History(context.Background(), testAccount(created), nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	checkHistory(t, got, txs)
}

func TestHistorySameTimestampAcrossPageBoundary(t *testing.T) {
	// Transactions 95..105 share one timestamp, straddling the first
	// 100-row page. The cursor backs off one second from the newest
	// timestamp so the siblings reappear on the next page, and the seen
	// set drops the repeats.
	now := time.Now().UTC()
	txs := makeTransactions(150, now.AddDate(0, 0, -10), time.Minute)
	shared := txs[95].Created
	for i := 95; i <= 105; i++ {
		txs[i].Created = shared
	}
	client := newStubClient(t, &stubAPI{txs: txs})
	account := testAccount(now.AddDate(0, 0, -30))

	got, err := client.History(context.Background(), account, nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	checkHistory(t, got, txs)
}

func TestHistoryClampsToAccountCreation(t *testing.T) {
	now := time.Now().UTC()
	created := now.AddDate(0, 0, -10)
	stub := &stubAPI{txs: makeTransactions(5, created.Add(time.Hour), time.Hour)}
	client := newStubClient(t, stub)

	days := 365
	got, err := client.History(context.Background(), testAccount(created), &days)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got.Transactions) != 5 {
		t.Errorf("got %d transactions, want 5", len(got.Transactions))
	}

	since, err := time.Parse(time.RFC3339, stub.firstSince)
	if err != nil {
		t.Fatalf("parsing first since %q: %v", stub.firstSince, err)
	}
	if since.Before(created.Truncate(time.Second)) {
		t.Errorf("first since %s reaches before account creation %s", since, created)
	}
}

func TestHistoryDaysWindow(t *testing.T) {
	now := time.Now().UTC()
	account := testAccount(now.AddDate(0, 0, -200))
	old := makeTransactions(10, now.AddDate(0, 0, -100), time.Hour)
	recent := make([]Transaction, 10)
	for i := range recent {
		recent[i] = Transaction{
			ID:      fmt.Sprintf("tx_recent_%02d", i),
			Created: now.AddDate(0, 0, -5).Add(time.Duration(i) * time.Hour),
		}
	}
	client := newStubClient(t, &stubAPI{txs: append(old, recent...)})

	days := 30
	got, err := client.History(context.Background(), account, &days)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	checkHistory(t, got, recent)
}

func TestHistorySkipsRejectedChunk(t *testing.T) {
	// The first chunk is rejected outright; the fetch carries on and
	// returns whatever the remaining chunks produce.
	now := time.Now().UTC()
	created := now.AddDate(0, 0, -700).Truncate(time.Second)
	boundary := created.AddDate(0, 0, 364)

	var early, late []Transaction
	for _, tx := range makeTransactions(40, created.Add(time.Hour), 400*time.Hour) {
		if tx.Created.Before(boundary) {
			early = append(early, tx)
		} else {
			late = append(late, tx)
		}
	}
	if len(early) == 0 || len(late) == 0 {
		t.Fatal("fixture does not span the chunk boundary")
	}

	stub := &stubAPI{txs: append(early, late...), rejectBefore: boundary}
	client := newStubClient(t, stub)

	got, err := client.History(context.Background(), testAccount(created), nil)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	checkHistory(t, got, late)
}

func TestHistorySCAExpiredBeforeAnyData(t *testing.T) {
	now := time.Now().UTC()
	client := newStubClient(t, &stubAPI{denyAll: true})

	_, err := client.History(context.Background(), testAccount(now.AddDate(0, 0, -30)), nil)
	if err == nil {
		t.Fatal("History succeeded, want SCAExpiredError")
	}
	var scaErr *SCAExpiredError
	if !errors.As(err, &scaErr) {
		t.Fatalf("error = %v, want *SCAExpiredError", err)
	}
	if scaErr.AccountID != "acc_test" {
		t.Errorf("AccountID = %s, want acc_test", scaErr.AccountID)
	}
}

func TestHistoryTruncatedMidFetch(t *testing.T) {
	now := time.Now().UTC()
	txs := makeTransactions(150, now.AddDate(0, 0, -20), time.Hour)
	stub := &stubAPI{txs: txs, denyAfter: 1}
	client := newStubClient(t, stub)

	days := 30
	got, err := client.History(context.Background(), testAccount(now.AddDate(0, 0, -60)), &days)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !got.Truncated {
		t.Error("Truncated = false after mid-fetch 403")
	}
	if len(got.Transactions) != 100 {
		t.Errorf("got %d transactions, want the 100 fetched before the 403", len(got.Transactions))
	}
	for i, tx := range got.Transactions {
		if i > 0 && tx.Created.Before(got.Transactions[i-1].Created) {
			t.Errorf("partial result not sorted at index %d", i)
		}
	}
}

func TestHistoryRepeatedFetchSameIDs(t *testing.T) {
	now := time.Now().UTC()
	txs := makeTransactions(230, now.AddDate(0, 0, -15), 45*time.Minute)
	client := newStubClient(t, &stubAPI{txs: txs})
	account := testAccount(now.AddDate(0, 0, -60))

	first, err := client.History(context.Background(), account, nil)
	if err != nil {
		t.Fatalf("first History: %v", err)
	}
	second, err := client.History(context.Background(), account, nil)
	if err != nil {
		t.Fatalf("second History: %v", err)
	}

	if len(first.Transactions) != len(second.Transactions) {
		t.Fatalf("fetches disagree: %d vs %d transactions", len(first.Transactions), len(second.Transactions))
	}
	for i := range first.Transactions {
		if first.Transactions[i].ID != second.Transactions[i].ID {
			t.Fatalf("fetches diverge at index %d: %s vs %s", i, first.Transactions[i].ID, second.Transactions[i].ID)
		}
	}
}
