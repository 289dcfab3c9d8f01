package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// MerchantRow is a merchant normalized out of the transactions, address
// flattened.
type MerchantRow struct {
	ID       string              `bigquery:"id"` // REQUIRED
	GroupID  bigquery.NullString `bigquery:"group_id"`
	Name     bigquery.NullString `bigquery:"name"`
	Category bigquery.NullString `bigquery:"category"`
	Emoji    bigquery.NullString `bigquery:"emoji"`
	LogoURL  bigquery.NullString `bigquery:"logo_url"`
	Online   bool                `bigquery:"online"`
	ATM      bool                `bigquery:"atm"`

	Address   bigquery.NullString  `bigquery:"address"`
	City      bigquery.NullString  `bigquery:"city"`
	Region    bigquery.NullString  `bigquery:"region"`
	Country   bigquery.NullString  `bigquery:"country"`
	Postcode  bigquery.NullString  `bigquery:"postcode"`
	Latitude  bigquery.NullFloat64 `bigquery:"latitude"`
	Longitude bigquery.NullFloat64 `bigquery:"longitude"`
}

// UpsertMerchants merges merchant rows keyed by merchant ID.
func (s *Store) UpsertMerchants(ctx context.Context, rows []MerchantRow) error {
	if len(rows) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`
		MERGE %s t
		USING UNNEST(@rows) s
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			group_id = s.group_id,
			name = s.name,
			category = s.category,
			emoji = s.emoji,
			logo_url = s.logo_url,
			online = s.online,
			atm = s.atm,
			address = s.address,
			city = s.city,
			region = s.region,
			country = s.country,
			postcode = s.postcode,
			latitude = s.latitude,
			longitude = s.longitude
		WHEN NOT MATCHED THEN
			INSERT (id, group_id, name, category, emoji, logo_url, online, atm,
				address, city, region, country, postcode, latitude, longitude)
			VALUES (s.id, s.group_id, s.name, s.category, s.emoji, s.logo_url, s.online, s.atm,
				s.address, s.city, s.region, s.country, s.postcode, s.latitude, s.longitude)
	`, s.table("merchants"))

	params := []bigquery.QueryParameter{{Name: "rows", Value: rows}}
	if err := s.runDML(ctx, sql, params); err != nil {
		return fmt.Errorf("UpsertMerchants: %w", err)
	}
	return nil
}
