// Package credentials resolves per-account Gmail OAuth credentials from a
// stored refresh-token file, per-account environment variables, or ambient
// Google credentials.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"replydraft/internal/apperr"
	"replydraft/internal/gmail"
	"replydraft/internal/util"
)

// DefaultTokenURI is Google's OAuth token endpoint.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// DefaultRefreshTimeout bounds one token endpoint round trip.
const DefaultRefreshTimeout = 15 * time.Second

// EnvRefreshTokenPrefix prefixes the per-account refresh token variable.
const EnvRefreshTokenPrefix = "GMAIL_REFRESH_TOKEN_"

// Missing-piece labels reported in CredentialError.
const (
	MissingClient       = "OAuth client (client_id/client_secret)"
	MissingRefreshToken = "refresh token (token file entry or per-email env)"
)

// Config locates the credential material.
type Config struct {
	ClientSecretFile string
	ClientID         string
	ClientSecret     string
	TokenURI         string
	TokenFile        string
	// AllowAmbient enables Application Default Credentials as a last resort.
	AllowAmbient bool
	// RefreshTimeout bounds each token refresh request.
	RefreshTimeout time.Duration
}

// Resolver produces token sources per account.
type Resolver struct {
	cfg    Config
	tokens *TokenFile
	http   *http.Client
	getenv func(string) string
	log    zerolog.Logger
}

func NewResolver(cfg Config, log zerolog.Logger) *Resolver {
	if cfg.TokenURI == "" {
		cfg.TokenURI = DefaultTokenURI
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	r := &Resolver{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RefreshTimeout},
		getenv: os.Getenv,
		log:    log.With().Str("component", "credentials").Logger(),
	}
	if cfg.TokenFile != "" {
		r.tokens = NewTokenFile(cfg.TokenFile)
	}
	return r
}

// OAuthConfig returns the OAuth client, from the client-secret JSON file when
// configured, else from the explicit client id and secret. It returns nil
// when neither is available.
func (r *Resolver) OAuthConfig() (*oauth2.Config, error) {
	if r.cfg.ClientSecretFile != "" {
		b, err := os.ReadFile(r.cfg.ClientSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read client secret at %s: %w", r.cfg.ClientSecretFile, err)
		}
		cfg, err := google.ConfigFromJSON(b, gmail.Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse oauth config: %w", err)
		}
		return cfg, nil
	}
	if r.cfg.ClientID == "" || r.cfg.ClientSecret == "" {
		return nil, nil
	}
	return &oauth2.Config{
		ClientID:     r.cfg.ClientID,
		ClientSecret: r.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  google.Endpoint.AuthURL,
			TokenURL: r.cfg.TokenURI,
		},
		Scopes: gmail.Scopes,
	}, nil
}

// RefreshToken looks up the stored refresh token for account, token file
// first, then the per-account environment variable.
func (r *Resolver) RefreshToken(account string) (token, source string, err error) {
	if r.tokens != nil {
		tok, err := r.tokens.Lookup(account)
		if err != nil {
			return "", "", err
		}
		if tok != "" {
			return tok, "token_file", nil
		}
	}
	if tok := strings.TrimSpace(r.getenv(EnvName(account))); tok != "" {
		return tok, "env", nil
	}
	return "", "", nil
}

// EnvName is the environment variable holding account's refresh token.
func EnvName(account string) string {
	return EnvRefreshTokenPrefix + util.EnvKey(account)
}

// TokenSource resolves a token source for account and performs one refresh
// so that bad credentials surface as a CredentialError up front. The first
// refresh is bound to ctx; the returned source outlives ctx and refreshes on
// its own client with the configured timeout.
func (r *Resolver) TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error) {
	client, err := r.OAuthConfig()
	if err != nil {
		return nil, &apperr.CredentialError{Account: account, Missing: []string{MissingClient}, Err: err}
	}
	refresh, source, err := r.RefreshToken(account)
	if err != nil {
		return nil, &apperr.CredentialError{Account: account, Missing: []string{MissingRefreshToken}, Err: err}
	}

	// Later refreshes happen inside Gmail calls that carry their own deadline,
	// so the long-lived source only drops ctx cancellation.
	bg := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, r.http)

	if client != nil && refresh != "" {
		seed := &oauth2.Token{RefreshToken: refresh}
		tok, err := client.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, r.http), seed).Token()
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) {
				return nil, &apperr.CredentialError{Account: account, Err: err}
			}
			return nil, apperr.Transient("refresh token", err)
		}
		r.log.Debug().Str("account", account).Str("source", source).Msg("resolved refresh token")
		return client.TokenSource(bg, tok), nil
	}

	if r.cfg.AllowAmbient {
		creds, err := google.FindDefaultCredentials(bg, gmail.Scopes...)
		if err == nil {
			r.log.Debug().Str("account", account).Msg("using application default credentials")
			return creds.TokenSource, nil
		}
		r.log.Debug().Err(err).Msg("no application default credentials")
	}

	var missing []string
	if client == nil {
		missing = append(missing, MissingClient)
	}
	if refresh == "" {
		missing = append(missing, MissingRefreshToken)
	}
	return nil, &apperr.CredentialError{Account: account, Missing: missing}
}
