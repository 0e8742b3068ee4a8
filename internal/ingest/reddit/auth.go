package reddit

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// passwordSource fetches a fresh script-app token with the password grant.
// It is always wrapped in oauth2.ReuseTokenSource, which calls it again only
// once the cached token has expired.
type passwordSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("reddit password grant: %w", err)
	}

	return tok, nil
}

func newTokenSource(ctx context.Context, cfg Config, base http.RoundTripper) oauth2.TokenSource {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	// token requests need the same User-Agent as API calls
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base, Timeout: cfg.Timeout})

	return oauth2.ReuseTokenSource(nil, &passwordSource{
		ctx:      ctx,
		cfg:      oauthCfg,
		username: cfg.Username,
		password: cfg.Password,
	})
}

// userAgentTransport sets the User-Agent the platform requires on every call.
type userAgentTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)

	return t.base.RoundTrip(r)
}
