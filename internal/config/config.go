package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config carries everything the CLI commands need. All values come from the
// environment; per-command flags override the relevant fields at the call
// site.
type Config struct {
	Monzo     MonzoConfig
	Warehouse WarehouseConfig
	Paths     PathsConfig
}

type MonzoConfig struct {
	ClientID     string
	ClientSecret string
}

type WarehouseConfig struct {
	ProjectID string
	DatasetID string
	// SnapshotBucket is optional; when set, export uploads the snapshot
	// JSON to this GCS bucket after saving it locally.
	SnapshotBucket string
}

type PathsConfig struct {
	TokenFile    string
	SnapshotFile string
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config.Load: resolving home directory: %w", err)
	}

	cfg := &Config{
		Monzo: MonzoConfig{
			ClientID:     getEnv("MONZO_CLIENT_ID", ""),
			ClientSecret: getEnv("MONZO_CLIENT_SECRET", ""),
		},
		Warehouse: WarehouseConfig{
			ProjectID:      getEnv("BQ_PROJECT_ID", ""),
			DatasetID:      getEnv("BQ_DATASET_ID", "monzo"),
			SnapshotBucket: getEnv("SNAPSHOT_BUCKET", ""),
		},
		Paths: PathsConfig{
			TokenFile:    getEnv("MONZO_TOKEN_FILE", filepath.Join(home, ".monzo_token.json")),
			SnapshotFile: getEnv("MONZO_SNAPSHOT_FILE", filepath.Join(home, ".monzo_data.json")),
		},
	}

	return cfg, nil
}

// RequireWarehouse validates the fields needed to talk to BigQuery.
func (c *Config) RequireWarehouse() error {
	if c.Warehouse.ProjectID == "" {
		return fmt.Errorf("BQ_PROJECT_ID is not set")
	}
	if c.Warehouse.DatasetID == "" {
		return fmt.Errorf("BQ_DATASET_ID is not set")
	}
	return nil
}

// RequireOAuth validates the fields needed for the authorization flow.
func (c *Config) RequireOAuth() error {
	if c.Monzo.ClientID == "" || c.Monzo.ClientSecret == "" {
		return fmt.Errorf("MONZO_CLIENT_ID and MONZO_CLIENT_SECRET must be set (create a client at https://developers.monzo.com)")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
