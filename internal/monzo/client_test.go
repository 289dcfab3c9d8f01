package monzo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/accounts":
			w.Write([]byte(`{"accounts": [{"id": "acc_1", "type": "uk_retail", "currency": "GBP"}]}`))
		case "/pots":
			if got := r.URL.Query().Get("current_account_id"); got != "acc_1" {
				t.Errorf("current_account_id = %q", got)
			}
			w.Write([]byte(`{"pots": [{"id": "pot_1", "name": "Savings", "balance": 12000}]}`))
		case "/balance":
			if got := r.URL.Query().Get("account_id"); got != "acc_1" {
				t.Errorf("account_id = %q", got)
			}
			w.Write([]byte(`{"balance": 5000, "total_balance": 17000, "currency": "GBP", "spend_today": -250}`))
		case "/ping/whoami":
			w.Write([]byte(`{"authenticated": true, "client_id": "client_1", "user_id": "user_1"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))
	ctx := context.Background()

	accounts, err := client.Accounts(ctx)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "acc_1" {
		t.Errorf("accounts = %+v", accounts)
	}

	pots, err := client.Pots(ctx, "acc_1")
	if err != nil {
		t.Fatalf("Pots: %v", err)
	}
	if len(pots) != 1 || pots[0].Balance != 12000 {
		t.Errorf("pots = %+v", pots)
	}

	balance, err := client.AccountBalance(ctx, "acc_1")
	if err != nil {
		t.Fatalf("AccountBalance: %v", err)
	}
	if balance.Balance != 5000 || balance.TotalBalance != 17000 {
		t.Errorf("balance = %+v", balance)
	}

	identity, err := client.WhoAmI(ctx)
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if !identity.Authenticated || identity.UserID != "user_1" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient("stale-token", WithBaseURL(server.URL))
	_, err := client.Accounts(context.Background())
	if err == nil {
		t.Fatal("Accounts succeeded on a 401")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
}
