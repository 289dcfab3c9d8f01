package monzo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Account is a Monzo account as returned by /accounts.
type Account struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"` // uk_retail, uk_retail_joint, uk_monzo_flex
	Description string     `json:"description,omitempty"`
	Created     *time.Time `json:"created"` // some historic accounts lack it
	Closed      bool       `json:"closed"`
	Currency    string     `json:"currency"`
}

// Pot is a savings pot attached to a current account.
type Pot struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Style            string     `json:"style,omitempty"`
	Balance          int64      `json:"balance"` // minor units
	GoalAmount       *int64     `json:"goal_amount,omitempty"`
	Currency         string     `json:"currency"`
	Created          *time.Time `json:"created"`
	Updated          *time.Time `json:"updated"`
	Deleted          bool       `json:"deleted"`
	Locked           bool       `json:"locked"`
	CurrentAccountID string     `json:"current_account_id"`
}

// BalanceMajor returns the pot balance in major units.
func (p Pot) BalanceMajor() float64 {
	return MajorUnits(p.Balance)
}

// Balance is the live balance reported by /balance.
type Balance struct {
	Balance      int64  `json:"balance"` // minor units
	TotalBalance int64  `json:"total_balance"`
	Currency     string `json:"currency"`
	SpendToday   int64  `json:"spend_today"`
}

// BalanceMajor returns the account balance in major units.
func (b Balance) BalanceMajor() float64 {
	return MajorUnits(b.Balance)
}

// Address is a merchant address with geocoordinates.
type Address struct {
	ShortFormatted string  `json:"short_formatted,omitempty"`
	Formatted      string  `json:"formatted,omitempty"`
	Address        string  `json:"address,omitempty"`
	City           string  `json:"city,omitempty"`
	Region         string  `json:"region,omitempty"`
	Country        string  `json:"country,omitempty"`
	Postcode       string  `json:"postcode,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	ZoomLevel      int     `json:"zoom_level,omitempty"`
	Approximate    bool    `json:"approximate,omitempty"`
}

// Merchant is the expanded merchant object (via expand[]=merchant).
type Merchant struct {
	ID       string   `json:"id"`
	GroupID  string   `json:"group_id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Category string   `json:"category,omitempty"`
	Emoji    string   `json:"emoji,omitempty"`
	Logo     string   `json:"logo,omitempty"`
	Online   bool     `json:"online"`
	ATM      bool     `json:"atm"`
	Address  *Address `json:"address,omitempty"`
}

// Counterparty carries the sender/recipient details of a bank transfer.
type Counterparty struct {
	AccountNumber string `json:"account_number,omitempty"`
	Name          string `json:"name,omitempty"`
	SortCode      string `json:"sort_code,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

// MerchantRef is the transaction's merchant field, which the API returns
// either as an opaque ID string or as a fully expanded object.
type MerchantRef struct {
	ID       string
	Expanded *Merchant
}

func (m *MerchantRef) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*m = MerchantRef{}
		return nil
	}
	if b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return fmt.Errorf("MerchantRef: decoding id: %w", err)
		}
		*m = MerchantRef{ID: id}
		return nil
	}
	var merchant Merchant
	if err := json.Unmarshal(b, &merchant); err != nil {
		return fmt.Errorf("MerchantRef: decoding object: %w", err)
	}
	*m = MerchantRef{ID: merchant.ID, Expanded: &merchant}
	return nil
}

func (m MerchantRef) MarshalJSON() ([]byte, error) {
	if m.Expanded != nil {
		return json.Marshal(m.Expanded)
	}
	if m.ID != "" {
		return json.Marshal(m.ID)
	}
	return []byte("null"), nil
}

// SettledTime handles the API quirk where "settled" can be a timestamp,
// null, or an empty string for unsettled transactions.
type SettledTime struct {
	Time  time.Time
	Valid bool
}

func (s *SettledTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = SettledTime{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("SettledTime: %w", err)
	}
	if raw == "" {
		*s = SettledTime{}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("SettledTime: parsing %q: %w", raw, err)
	}
	*s = SettledTime{Time: t, Valid: true}
	return nil
}

func (s SettledTime) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Time.UTC().Format(time.RFC3339Nano))
}

// Transaction is a single transaction. ID is globally unique and stable
// across API calls; Created is the authoritative ordering key.
type Transaction struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"` // minor units, negative = outflow
	Currency  string    `json:"currency"`
	Created   time.Time `json:"created"`
	Settled   SettledTime `json:"settled"`

	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Notes       string `json:"notes,omitempty"`

	Merchant MerchantRef `json:"merchant"`

	LocalAmount   *int64 `json:"local_amount,omitempty"`
	LocalCurrency string `json:"local_currency,omitempty"`

	Scheme            string `json:"scheme,omitempty"` // mastercard, bacs, ...
	IsLoad            bool   `json:"is_load"`
	IncludeInSpending bool   `json:"include_in_spending"`
	DeclineReason     string `json:"decline_reason,omitempty"`

	Counterparty *Counterparty `json:"counterparty,omitempty"`

	// Metadata carries provider-specific fields such as the merchant
	// category code ("mcc").
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MerchantID returns the merchant identifier whether the field arrived
// inline or expanded.
func (t Transaction) MerchantID() string {
	return t.Merchant.ID
}

// Declined reports whether the transaction was a failed authorization.
// Declined transactions are excluded from balance calculations.
func (t Transaction) Declined() bool {
	return t.DeclineReason != ""
}

// AmountMajor returns the amount in major units (e.g. -5.03 for -503).
func (t Transaction) AmountMajor() float64 {
	return MajorUnits(t.Amount)
}

// MCC returns the merchant category code from the metadata bag, if present.
func (t Transaction) MCC() string {
	return t.Metadata["mcc"]
}

// MajorUnits converts minor currency units to major units.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}
