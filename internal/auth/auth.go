// Package auth acquires OAuth2 client-credentials tokens from the
// identity provider and caches them until shortly before expiry. The
// rest of the SDK consumes it through the transport.TokenSource
// interface and never sees credentials.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultLoginURL = "https://login.microsoftonline.com"
	defaultResource = "https://api.timeseries.azure.com/"

	// refreshMargin is how long before expiry a cached token is
	// considered stale.
	refreshMargin = time.Minute
)

// Credentials identifies the service principal used for token
// acquisition.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// ClientCredentials is a caching token source for the client
// credentials grant.
type ClientCredentials struct {
	creds    Credentials
	loginURL string
	resource string
	http     *http.Client
	log      logrus.FieldLogger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Option adjusts a ClientCredentials outside the common case.
type Option func(*ClientCredentials)

// WithLoginURL overrides the identity provider endpoint, mainly for
// sovereign clouds and tests.
func WithLoginURL(u string) Option {
	return func(c *ClientCredentials) { c.loginURL = strings.TrimSuffix(u, "/") }
}

func New(creds Credentials, log logrus.FieldLogger, opts ...Option) *ClientCredentials {
	c := &ClientCredentials{
		creds:    creds,
		loginURL: defaultLoginURL,
		resource: defaultResource,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a cached "Bearer ..." header value, fetching a fresh
// token when the cached one is within the refresh margin of expiry.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.expires) > refreshMargin {
		return c.token, nil
	}

	token, expires, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = expires
	return token, nil
}

func (c *ClientCredentials) fetch(ctx context.Context) (string, time.Time, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"resource":      {c.resource},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/token", c.loginURL, c.creds.TenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			c.log.Error("authentication failed, check the client secret")
		}
		return "", time.Time{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading token response: %w", err)
	}

	var body struct {
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned no access token")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.log.WithFields(logrus.Fields{
		"tenant":  c.creds.TenantID,
		"expires": ttl.String(),
	}).Debug("acquired access token")

	return body.TokenType + " " + body.AccessToken, time.Now().Add(ttl), nil
}
