package auth

import (
	"net/http"
	"net/url"

	"callsync/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewTelephonyTokenSource returns a cached token source for the provider's
// JWT grant: the configured JWT credential is exchanged at
// {server}/restapi/oauth/token using HTTP Basic client authentication.
func NewTelephonyTokenSource(cfg config.TelephonyConfig, httpClient *http.Client) *CachedSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.Server + "/restapi/oauth/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{
			"grant_type": {jwtBearerGrant},
			"assertion":  {cfg.JWTAssertion},
		},
	}
	return NewCachedSource(conf.TokenSource(exchangeContext(httpClient)), 0)
}
