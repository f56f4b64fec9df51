package auth

import "strings"

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// DiscoveryDocument is the OIDC-shaped metadata served under
// /.well-known/openid-configuration. Clients use it to locate endpoints and
// learn which flows the server supports.
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint   string   `json:"device_authorization_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	SubjectTypesSupported         []string `json:"subject_types_supported"`
	SigningAlgsSupported          []string `json:"id_token_signing_alg_values_supported"`
}

// Discovery builds the metadata document for baseURL, which is derived from
// the incoming request host so the document is correct behind any ingress.
func Discovery(baseURL string) *DiscoveryDocument {
	base := strings.TrimRight(baseURL, "/")
	return &DiscoveryDocument{
		Issuer:                      base,
		AuthorizationEndpoint:       base + "/oauth/authorize",
		TokenEndpoint:               base + "/oauth/token",
		DeviceAuthorizationEndpoint: base + "/oauth/device_authorization",
		RegistrationEndpoint:        base + "/oauth/device/register",
		RevocationEndpoint:          base + "/oauth/revoke",
		IntrospectionEndpoint:       base + "/oauth/introspect",
		JWKSURI:                     base + "/.well-known/jwks.json",
		ResponseTypesSupported:      []string{"code"},
		GrantTypesSupported: []string{
			GrantAuthorizationCode,
			GrantRefreshToken,
			GrantDeviceCode,
		},
		CodeChallengeMethodsSupported: []string{"S256"},
		TokenEndpointAuthMethods:      []string{"none"},
		ScopesSupported:               []string{"read", "write", "search", "admin"},
		SubjectTypesSupported:         []string{"public"},
		SigningAlgsSupported:          []string{"ES256"},
	}
}

// Introspection is the RFC 7662 response shape. Inactive tokens carry only
// Active=false; nothing else about them is disclosed.
type Introspection struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub,omitempty"`
	TenantID  string `json:"tenant,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}
