package monzo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dvloznov/monzo-exporter/internal/logger"
)

const (
	authBaseURL         = "https://auth.monzo.com"
	defaultRedirectURI  = "http://localhost:8080/callback"
	defaultCallbackAddr = "localhost:8080"
)

// Authenticator runs the OAuth authorization-code flow against Monzo: it
// prints an authorization URL, captures the callback on a local listener,
// and exchanges the code for a token. The redirect URI must match the one
// registered for the client at https://developers.monzo.com.
type Authenticator struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	redirectURI  string
	callbackAddr string
	httpClient   *http.Client
}

// AuthOption customizes an Authenticator. Tests point it at stub servers.
type AuthOption func(*Authenticator)

func WithAuthURLs(authURL, tokenURL string) AuthOption {
	return func(a *Authenticator) {
		a.authURL = authURL
		a.tokenURL = tokenURL
	}
}

func NewAuthenticator(clientID, clientSecret string, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      authBaseURL,
		tokenURL:     apiBaseURL + "/oauth2/token",
		redirectURI:  defaultRedirectURI,
		callbackAddr: defaultCallbackAddr,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthorizeURL builds the browser URL that starts the flow.
func (a *Authenticator) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", a.clientID)
	params.Set("redirect_uri", a.redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	return a.authURL + "/?" + params.Encode()
}

// Authorize runs the interactive flow end to end: local callback listener,
// state validation, code exchange. It blocks until the callback arrives or
// the context is cancelled.
func (a *Authenticator) Authorize(ctx context.Context) (*Token, error) {
	log := logger.FromContext(ctx)

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			// Usually an approved tab left over from a previous run.
			http.Error(w, "State mismatch - close old Monzo tabs and try again with the new link.", http.StatusBadRequest)
			errCh <- fmt.Errorf("state mismatch on callback")
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			errCh <- fmt.Errorf("callback carried no authorization code")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="font-family: sans-serif; text-align: center; padding-top: 50px;">
<h1>Authorization successful</h1>
<p>You can close this window and return to the terminal.</p>
<p>Don't forget to <strong>approve access in the Monzo app</strong>.</p>
</body></html>`)
		codeCh <- code
	})

	srv := &http.Server{Addr: a.callbackAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("callback listener: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("url", a.AuthorizeURL(state)).Msg("open this URL in your browser and approve access")

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, fmt.Errorf("Authorize: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := a.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("Authorize: %w", err)
	}
	return token, nil
}

// ExchangeCode trades an authorization code for a token.
func (a *Authenticator) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("redirect_uri", a.redirectURI)
	form.Set("code", code)
	return a.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for a fresh access token. Note: refreshing
// does not restore full-history access; only a new authorization does.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	form.Set("refresh_token", refreshToken)
	return a.tokenRequest(ctx, form)
}

func (a *Authenticator) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tokenRequest: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenRequest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tokenRequest: reading body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokenRequest: status %d: %s", resp.StatusCode, string(body))
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("tokenRequest: decoding response: %w", err)
	}
	token.ObtainedAt = time.Now().UTC()
	return &token, nil
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
