package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Endpoints are the portal OIDC endpoints one flow talks to.
type Endpoints struct {
	Registration        string
	DeviceAuthorization string
	Token               string
	Authorization       string
}

// EndpointResolver derives Endpoints from a portal start URL and region.
// The authorization endpoint in particular is provider-specific; the
// resolver is pluggable so the derivation can change without touching the
// flows.
type EndpointResolver interface {
	Resolve(ctx context.Context, client *http.Client, startURL, region string) (*Endpoints, error)
}

func oidcBase(region string) string {
	return fmt.Sprintf("https://oidc.%s.amazonaws.com", region)
}

// PortalResolver is the v1 start-URL transform: API endpoints live on the
// regional OIDC host, and the authorization endpoint is the portal URL with
// its /start suffix stripped. The transform is a heuristic, kept behind the
// EndpointResolver interface for the day the portal changes it.
type PortalResolver struct {
	// BaseOverride replaces the regional OIDC host, for tests and
	// non-standard deployments.
	BaseOverride string
}

func (r PortalResolver) Resolve(_ context.Context, _ *http.Client, startURL, region string) (*Endpoints, error) {
	if startURL == "" {
		return nil, errors.New("start URL is required")
	}
	if region == "" && r.BaseOverride == "" {
		return nil, errors.New("region is required")
	}
	parsed, err := url.Parse(startURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid start URL: %s", startURL)
	}
	base := r.BaseOverride
	if base == "" {
		base = oidcBase(region)
	}
	return &Endpoints{
		Registration:        base + "/client/register",
		DeviceAuthorization: base + "/device_authorization",
		Token:               base + "/token",
		Authorization:       strings.TrimSuffix(strings.TrimRight(startURL, "/"), "/start") + "/authorize",
	}, nil
}

// DiscoveryResolver validates the derivation against the provider's own
// discovery metadata when the portal publishes it, falling back to the
// portal transform when it does not.
type DiscoveryResolver struct {
	Fallback PortalResolver
}

type discoveryDocument struct {
	AuthorizationEndpoint       string `json:"authorization_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
	RegistrationEndpoint        string `json:"registration_endpoint"`
}

func (r DiscoveryResolver) Resolve(ctx context.Context, client *http.Client, startURL, region string) (*Endpoints, error) {
	derived, err := r.Fallback.Resolve(ctx, client, startURL, region)
	if err != nil {
		return nil, err
	}
	base := r.Fallback.BaseOverride
	if base == "" {
		base = oidcBase(region)
	}
	doc, err := fetchDiscovery(ctx, client, base)
	if err != nil {
		// No discovery document is the common case for this portal
		// dialect; the transform stands on its own.
		return derived, nil
	}
	if doc.AuthorizationEndpoint != "" {
		derived.Authorization = doc.AuthorizationEndpoint
	}
	if doc.DeviceAuthorizationEndpoint != "" {
		derived.DeviceAuthorization = doc.DeviceAuthorizationEndpoint
	}
	if doc.TokenEndpoint != "" {
		derived.Token = doc.TokenEndpoint
	}
	if doc.RegistrationEndpoint != "" {
		derived.Registration = doc.RegistrationEndpoint
	}
	return derived, nil
}

func fetchDiscovery(ctx context.Context, client *http.Client, issuer string) (*discoveryDocument, error) {
	wellKnown := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("discovery failed: %s", resp.Status)
	}
	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DefaultResolver prefers discovery metadata and falls back to the portal
// transform.
func DefaultResolver() EndpointResolver {
	return DiscoveryResolver{}
}
