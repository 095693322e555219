package featureflags

// No other package in this module reads these flags: setting their
// environment variables does not change the server's behaviour.
var (
	// AccessTokenRevocationCascade revokes descendant access tokens when the
	// refresh token (or authorization code) they descend from is revoked.
	AccessTokenRevocationCascade = newFlag("access_token_revocation_cascade", true)

	// PermissiveScopePolicy narrows a request's scopes to the intersection
	// with the client's allowed scopes instead of rejecting the request
	// outright when it names a scope the client isn't allowed.
	PermissiveScopePolicy = newFlag("permissive_scope_policy", false)

	// AllowNoneIDTokenAlg permits a client explicitly registered with
	// id_token_signed_response_alg=none to receive unsigned ID tokens.
	AllowNoneIDTokenAlg = newFlag("allow_none_id_token_alg", false)

	// ConfigDisallowUnknownFields forbids unknown fields in the server config
	// while unmarshaling, to catch config typos early.
	ConfigDisallowUnknownFields = newFlag("config_disallow_unknown_fields", false)

	// ExpandEnv can enable or disable env expansion in the config which can be useful in
	// environments where, e.g., $ is part of a secret value.
	ExpandEnv = newFlag("expand_env", true)

	// ClientCredentialGrantEnabledByDefault enables the client_credentials grant type by
	// default without requiring explicit configuration in the client's grant_types.
	ClientCredentialGrantEnabledByDefault = newFlag("client_credential_grant_enabled_by_default", false)
)
