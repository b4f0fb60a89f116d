package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"callsync/internal/config"

	"github.com/golang-jwt/jwt/v5"
	oauthjwt "golang.org/x/oauth2/jwt"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionTTL = 3 * time.Minute
	// The CRM token response carries no expiry; refresh on this cadence or on 401.
	crmTokenTTL = 30 * time.Minute
)

// NewCRMTokenSource returns a cached token source for the CRM's OAuth 2.0
// JWT bearer flow: an RS256 assertion signed with the connected app key is
// exchanged at {login}/services/oauth2/token. The response's instance_url
// and id fields become Token.InstanceURL and Token.IdentityURL.
func NewCRMTokenSource(cfg config.CRMConfig, httpClient *http.Client) (*CachedSource, error) {
	// Fail at startup rather than on the first pass.
	if _, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM)); err != nil {
		return nil, fmt.Errorf("parse SF_PRIVATE_KEY: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	loginURL := strings.TrimRight(cfg.LoginURL, "/")

	conf := &oauthjwt.Config{
		Email:      cfg.ConsumerKey,
		Subject:    cfg.Username,
		Audience:   loginURL,
		PrivateKey: []byte(cfg.PrivateKeyPEM),
		TokenURL:   loginURL + "/services/oauth2/token",
		Expires:    assertionTTL,
	}

	src := NewCachedSource(conf.TokenSource(exchangeContext(httpClient)), crmTokenTTL)
	src.validate = func(t Token) error {
		if t.InstanceURL == "" {
			return errors.New("crm token response missing instance_url")
		}
		return nil
	}
	return src, nil
}
