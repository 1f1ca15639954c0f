package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortalResolver_Resolve(t *testing.T) {
	resolver := PortalResolver{}

	ep, err := resolver.Resolve(context.Background(), nil, "https://acme.awsapps.com/start", "eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "https://oidc.eu-central-1.amazonaws.com/client/register", ep.Registration)
	assert.Equal(t, "https://oidc.eu-central-1.amazonaws.com/device_authorization", ep.DeviceAuthorization)
	assert.Equal(t, "https://oidc.eu-central-1.amazonaws.com/token", ep.Token)
	assert.Equal(t, "https://acme.awsapps.com/authorize", ep.Authorization)
}

func TestPortalResolver_TrailingSlashAndNoStartSuffix(t *testing.T) {
	resolver := PortalResolver{}

	ep, err := resolver.Resolve(context.Background(), nil, "https://acme.awsapps.com/start/", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.awsapps.com/authorize", ep.Authorization)

	ep, err = resolver.Resolve(context.Background(), nil, "https://sso.example.com", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "https://sso.example.com/authorize", ep.Authorization)
}

func TestPortalResolver_InvalidInput(t *testing.T) {
	resolver := PortalResolver{}

	_, err := resolver.Resolve(context.Background(), nil, "", "us-east-1")
	assert.Error(t, err)

	_, err = resolver.Resolve(context.Background(), nil, "https://acme.awsapps.com/start", "")
	assert.Error(t, err)

	_, err = resolver.Resolve(context.Background(), nil, "not a url", "us-east-1")
	assert.Error(t, err)
}

func TestDiscoveryResolver_UsesPublishedMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/.well-known/openid-configuration", r.URL.Path)
		_ = json.NewEncoder(w).Encode(discoveryDocument{
			AuthorizationEndpoint: "https://discovered.example.com/oauth/authorize",
			TokenEndpoint:         "https://discovered.example.com/oauth/token",
		})
	}))
	defer srv.Close()

	resolver := DiscoveryResolver{Fallback: PortalResolver{BaseOverride: srv.URL}}
	ep, err := resolver.Resolve(context.Background(), srv.Client(), "https://acme.awsapps.com/start", "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, "https://discovered.example.com/oauth/authorize", ep.Authorization)
	assert.Equal(t, "https://discovered.example.com/oauth/token", ep.Token)
	// Fields the document omits keep the derived values.
	assert.Equal(t, srv.URL+"/device_authorization", ep.DeviceAuthorization)
	assert.Equal(t, srv.URL+"/client/register", ep.Registration)
}

func TestDiscoveryResolver_FallsBackWithoutDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resolver := DiscoveryResolver{Fallback: PortalResolver{BaseOverride: srv.URL}}
	ep, err := resolver.Resolve(context.Background(), srv.Client(), "https://acme.awsapps.com/start", "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/token", ep.Token)
	assert.Equal(t, "https://acme.awsapps.com/authorize", ep.Authorization)
}
