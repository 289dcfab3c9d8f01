package monzo

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Token is the OAuth token persisted between runs. Full-history access only
// lasts ~5 minutes after authorization; after that the token still works but
// the API narrows transaction history to the last ~90 days.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at,omitempty"`
}

// LoadToken reads the token file written by 'monzo auth'.
func LoadToken(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("token file not found at %s - run 'monzo auth' first", path)
		}
		return nil, fmt.Errorf("LoadToken: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("LoadToken: decoding %s: %w", path, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token file %s has no access_token - run 'monzo auth' again", path)
	}
	return &token, nil
}

// Save writes the token to disk, readable only by the current user.
func (t *Token) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("Token.Save: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("Token.Save: writing %s: %w", path, err)
	}
	return nil
}
