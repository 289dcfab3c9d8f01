package monzo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/dvloznov/monzo-exporter/internal/logger"
)

// The transactions endpoint enforces two overlapping limits:
//
//  1. any [since, before) window spanning 365 days or more returns HTTP 400;
//  2. once ~5 minutes have passed since authentication, any window reaching
//     further back than ~90 days returns HTTP 403 (Strong Customer
//     Authentication decay, see https://docs.monzo.com/#list-transactions).
//
// History works around (1) by walking the requested range in 364-day chunks,
// oldest to newest, and treats (2) as a stop signal: whatever has been
// accumulated is returned as a partial result.
const (
	chunkDays = 364
	pageLimit = 100

	boundFormat  = "2006-01-02T15:04:05Z"
	cursorFormat = "2006-01-02T15:04:05.000Z"
)

// SCAExpiredError is returned when the 90-day limit was hit before a single
// transaction could be fetched.
type SCAExpiredError struct {
	AccountID string
}

func (e *SCAExpiredError) Error() string {
	return fmt.Sprintf(
		"account %s: SCA expired - only the last ~89 days of history are accessible. "+
			"Re-authenticate with 'monzo auth --force' for full history, or retry with --days 89 or fewer",
		e.AccountID)
}

// History is the result of a history fetch for one account.
type History struct {
	Transactions []Transaction
	// Truncated is set when authorization decayed mid-fetch and the result
	// covers only part of the requested window.
	Truncated bool
}

// History fetches the transaction history of an account, sorted ascending by
// creation time and deduplicated by transaction ID. days limits the lookback
// window; nil means full history from account creation. Requesting more
// history than the account has existed clamps the window to the creation
// time.
//
// Repeated calls with the same account and window yield the same ID set
// (against an unchanged upstream): ordering is by timestamp-sorted,
// ID-deduplicated content, not call sequence.
func (c *Client) History(ctx context.Context, account Account, days *int) (*History, error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()

	created := now.AddDate(0, 0, -chunkDays)
	if account.Created != nil {
		created = account.Created.UTC()
	}

	start := created
	if days != nil {
		requested := now.AddDate(0, 0, -*days)
		if requested.After(created) {
			start = requested
		} else {
			age := int(now.Sub(created).Hours() / 24)
			log.Info().
				Str("account_id", account.ID).
				Int("requested_days", *days).
				Int("account_age_days", age).
				Msg("account younger than requested window, fetching from creation")
		}
	}

	seen := make(map[string]struct{})
	var all []Transaction
	chunk := time.Duration(chunkDays) * 24 * time.Hour

	for chunkStart := start; chunkStart.Before(now); {
		chunkEnd := chunkStart.Add(chunk)
		if chunkEnd.After(now) {
			// Final bound sits past now so just-created transactions are
			// not cut off at the edge.
			chunkEnd = now.Add(24 * time.Hour)
		}

		txs, decayed, err := c.fetchChunk(ctx, account.ID, chunkStart, chunkEnd, seen, len(all))
		all = append(all, txs...)
		if err != nil {
			return nil, fmt.Errorf("History: account %s: %w", account.ID, err)
		}
		if decayed {
			if len(all) == 0 {
				return nil, &SCAExpiredError{AccountID: account.ID}
			}
			log.Warn().
				Str("account_id", account.ID).
				Int("fetched", len(all)).
				Msg("authorization decayed mid-fetch, returning partial history")
			sortByCreated(all)
			return &History{Transactions: all, Truncated: true}, nil
		}

		chunkStart = chunkEnd
	}

	sortByCreated(all)
	return &History{Transactions: all}, nil
}

// fetchChunk pages forward through [since, before) and returns the new
// transactions it collected, plus whether authorization decayed (HTTP 403).
// An HTTP 400 abandons the chunk without failing the fetch; any other error
// is fatal.
func (c *Client) fetchChunk(ctx context.Context, accountID string, since, before time.Time, seen map[string]struct{}, fetchedSoFar int) ([]Transaction, bool, error) {
	log := logger.FromContext(ctx)
	cursor := since.Format(boundFormat)
	bound := before.Format(boundFormat)

	var collected []Transaction
	for {
		page, err := c.transactionsPage(ctx, accountID, cursor, bound, pageLimit)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				switch apiErr.StatusCode {
				case http.StatusForbidden:
					return collected, true, nil
				case http.StatusBadRequest:
					log.Warn().
						Str("account_id", accountID).
						Str("since", cursor).
						Str("before", bound).
						Msg("chunk rejected by the API, skipping range")
					return collected, false, nil
				}
			}
			return collected, false, err
		}

		if len(page) == 0 {
			return collected, false, nil
		}

		var fresh []Transaction
		for _, tx := range page {
			if _, ok := seen[tx.ID]; ok {
				continue
			}
			seen[tx.ID] = struct{}{}
			fresh = append(fresh, tx)
		}
		// A page of nothing but duplicates means the cursor has stopped
		// producing new records: the chunk is exhausted.
		if len(fresh) == 0 {
			return collected, false, nil
		}
		collected = append(collected, fresh...)

		if total := fetchedSoFar + len(collected); total%1000 < pageLimit {
			log.Debug().Str("account_id", accountID).Int("fetched", total).Msg("fetching transactions")
		}

		// Advance to the newest timestamp in the page MINUS one second.
		// Multiple transactions can share a timestamp; advancing to the
		// exact timestamp would silently skip same-timestamp siblings. The
		// backoff reintroduces records the seen set already filters out.
		newest := fresh[0].Created
		for _, tx := range fresh[1:] {
			if tx.Created.After(newest) {
				newest = tx.Created
			}
		}
		cursor = newest.UTC().Add(-time.Second).Format(cursorFormat)
	}
}

func sortByCreated(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Created.Before(txs[j].Created)
	})
}
