// Package auth supplies the bearer token presented to the graph store and
// search backends. A Cached provider fetches the token once per process and
// reuses it until Invalidate is called.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/c360/graphdb/errors"
)

// ErrNoToken is returned when a provider has no token to hand out.
var ErrNoToken = stderrors.New("no token available")

// Provider returns an opaque bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same token.
type Static string

// Token implements Provider
func (s Static) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", errors.WrapInvalid(ErrNoToken, "Static", "Token", "read configured token")
	}
	return string(s), nil
}

// ClientCredentialsConfig configures an OAuth2 client-credentials provider.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ClientCredentials fetches tokens with the OAuth2 client-credentials grant.
type ClientCredentials struct {
	cfg clientcredentials.Config
}

// NewClientCredentials creates a client-credentials provider
func NewClientCredentials(cfg ClientCredentialsConfig) (*ClientCredentials, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("token_url and client_id are required"),
			"ClientCredentials", "New", "validate config")
	}
	return &ClientCredentials{cfg: clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleAutoDetect,
	}}, nil
}

// Token implements Provider
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	tok, err := c.cfg.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if stderrors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return "", errors.WrapInvalid(err, "ClientCredentials", "Token", "retrieve token")
		}
		return "", errors.WrapTransient(err, "ClientCredentials", "Token", "retrieve token")
	}
	if tok.AccessToken == "" {
		return "", errors.WrapInvalid(ErrNoToken, "ClientCredentials", "Token", "read access token")
	}
	return tok.AccessToken, nil
}

// Cached fetches from its provider on first use and hands out the same token
// until Invalidate. Concurrent first callers share one fetch. Failed fetches
// are not cached.
type Cached struct {
	provider Provider
	group    singleflight.Group

	mu    sync.RWMutex
	token string
}

// NewCached wraps provider
func NewCached(provider Provider) *Cached {
	return &Cached{provider: provider}
}

// Token implements Provider
func (c *Cached) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok != "" {
		return tok, nil
	}

	// The fetch is shared, so it must outlive any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("token", func() (any, error) {
		c.mu.RLock()
		cached := c.token
		c.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		fetched, err := c.provider.Token(fetchCtx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = fetched
		c.mu.Unlock()
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// Invalidate drops the cached token; the next Token call fetches a new one.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
