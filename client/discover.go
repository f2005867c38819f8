package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SamandarAlimov/accounts-sub001/internal/util"
)

const discoveryPath = "/.well-known/openid-configuration"

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
}

// Discover fetches the OpenID configuration of issuer and returns its endpoints.
// A nil httpClient uses http.DefaultClient.
func Discover(ctx context.Context, httpClient *http.Client, issuer string) (Endpoints, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	issuer = util.NormalizeURL(issuer)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+discoveryPath, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Endpoints{}, fmt.Errorf("discovery returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Endpoints{}, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if util.NormalizeURL(doc.Issuer) != issuer {
		return Endpoints{}, fmt.Errorf("issuer mismatch: expected %q, got %q", issuer, doc.Issuer)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return Endpoints{}, fmt.Errorf("discovery document is missing required endpoints")
	}

	return Endpoints{
		AuthURL:       doc.AuthorizationEndpoint,
		TokenURL:      doc.TokenEndpoint,
		RevocationURL: doc.RevocationEndpoint,
		UserInfoURL:   doc.UserInfoEndpoint,
	}, nil
}
