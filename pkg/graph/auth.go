package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/lmsync/lmsync/pkg/engine"
	"github.com/lmsync/lmsync/pkg/telemetry"
)

// AuthConfig configures the Microsoft identity platform device-code
// flow.
type AuthConfig struct {
	// ClientID is the app registration's application id.
	ClientID string

	// TenantID scopes the login. "consumers" restricts to personal
	// accounts, "common" allows both.
	TenantID string

	// TokenFile is where the refreshable token is cached between runs.
	TokenFile string

	Scopes []string
}

// Authenticator owns the token lifecycle: interactive device-code login,
// silent refresh from the on-disk cache, and forced refresh after the
// destination rejects a credential.
type Authenticator struct {
	oauth     *oauth2.Config
	tokenFile string
	log       *telemetry.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewAuthenticator creates an authenticator. The token cache is loaded
// lazily on first use.
func NewAuthenticator(cfg AuthConfig, log *telemetry.Logger) (*Authenticator, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("graph client id is required")
	}
	if cfg.TenantID == "" {
		cfg.TenantID = "consumers"
	}
	if cfg.TokenFile == "" {
		return nil, fmt.Errorf("token cache path is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"Tasks.ReadWrite", "offline_access"}
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	base := "https://login.microsoftonline.com/" + cfg.TenantID
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       base + "/oauth2/v2.0/authorize",
				TokenURL:      base + "/oauth2/v2.0/token",
				DeviceAuthURL: base + "/oauth2/v2.0/devicecode",
			},
		},
		tokenFile: cfg.TokenFile,
		log:       log.NewComponentLogger("auth"),
	}, nil
}

// Login runs the interactive device-code flow and caches the resulting
// token. The verification prompt goes to stdout so it survives log
// redirection.
func (a *Authenticator) Login(ctx context.Context) error {
	resp, err := a.oauth.DeviceAuth(ctx)
	if err != nil {
		return engine.NewAuthError("device code request failed", err)
	}

	fmt.Printf("To sign in, open %s and enter the code %s\n",
		resp.VerificationURI, resp.UserCode)

	tok, err := a.oauth.DeviceAccessToken(ctx, resp)
	if err != nil {
		return engine.NewAuthError("device code login failed", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = tok
	return a.saveLocked(tok)
}

// Token returns a valid access token, silently refreshing the cached one
// when it has expired. It never prompts; callers get an auth-classified
// error when interactive login is required.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokenLocked(ctx)
}

// Refresh discards the cached access token and obtains a fresh one from
// the refresh token. Used after the API rejects a credential mid-run.
func (a *Authenticator) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token == nil {
		if err := a.loadLocked(); err != nil {
			return err
		}
	}

	// Expire the access token so the token source must round-trip.
	a.token.Expiry = time.Now().Add(-time.Minute)
	_, err := a.tokenLocked(ctx)
	return err
}

// Reset deletes the token cache, forcing a fresh interactive login.
func (a *Authenticator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.token = nil
	if err := os.Remove(a.tokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token cache: %w", err)
	}
	return nil
}

func (a *Authenticator) tokenLocked(ctx context.Context) (*oauth2.Token, error) {
	if a.token == nil {
		if err := a.loadLocked(); err != nil {
			return nil, err
		}
	}

	if a.token.Valid() {
		return a.token, nil
	}

	fresh, err := a.oauth.TokenSource(ctx, a.token).Token()
	if err != nil {
		return nil, engine.NewAuthError("token refresh failed, run auth login", err)
	}

	if fresh.AccessToken != a.token.AccessToken {
		a.token = fresh
		if err := a.saveLocked(fresh); err != nil {
			a.log.WithError(err).Warn("failed to persist refreshed token")
		}
	}
	return a.token, nil
}

func (a *Authenticator) loadLocked() error {
	raw, err := os.ReadFile(a.tokenFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return engine.NewAuthError("no cached credentials, run auth login", err)
		}
		return engine.NewAuthError("failed to read token cache", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return engine.NewAuthError("corrupt token cache, run auth login", err)
	}
	a.token = &tok
	return nil
}

// saveLocked writes the token cache with owner-only permissions.
func (a *Authenticator) saveLocked(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenFile), 0o700); err != nil {
		return fmt.Errorf("failed to create token cache directory: %w", err)
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := os.WriteFile(a.tokenFile, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}
