package auth

// AuthConfig is a plain struct implementation of the Config interface,
// suitable for loading from JSON or YAML.
type AuthConfig struct {
	SigningKey          string   `json:"signing_key" yaml:"signing_key"`
	SigningMethod       string   `json:"signing_method" yaml:"signing_method"`
	ContextKey          string   `json:"context_key" yaml:"context_key"`
	TokenExpiration     int      `json:"token_expiration" yaml:"token_expiration"`
	TokenLookup         string   `json:"token_lookup" yaml:"token_lookup"`
	AuthScheme          string   `json:"auth_scheme" yaml:"auth_scheme"`
	Issuer              string   `json:"issuer" yaml:"issuer"`
	Audience            []string `json:"audience" yaml:"audience"`
	PublicRoutes        []string `json:"public_routes" yaml:"public_routes"`
	RegistrationPath    string   `json:"registration_path" yaml:"registration_path"`
	RegistrationMethod  string   `json:"registration_method" yaml:"registration_method"`
	VerificationBaseURL string   `json:"verification_base_url" yaml:"verification_base_url"`
}

var _ Config = (*AuthConfig)(nil)

func (c *AuthConfig) GetSigningKey() string { return c.SigningKey }

func (c *AuthConfig) GetSigningMethod() string {
	if c.SigningMethod == "" {
		return "HS256"
	}
	return c.SigningMethod
}

func (c *AuthConfig) GetContextKey() string {
	if c.ContextKey == "" {
		return "user"
	}
	return c.ContextKey
}

func (c *AuthConfig) GetTokenExpiration() int {
	if c.TokenExpiration == 0 {
		return 24
	}
	return c.TokenExpiration
}

func (c *AuthConfig) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return "header:Authorization"
	}
	return c.TokenLookup
}

func (c *AuthConfig) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c *AuthConfig) GetIssuer() string { return c.Issuer }

func (c *AuthConfig) GetAudience() []string { return c.Audience }

func (c *AuthConfig) GetPublicRoutes() []string { return c.PublicRoutes }

func (c *AuthConfig) GetRegistrationRoute() (string, string) {
	path := c.RegistrationPath
	if path == "" {
		path = "/users"
	}
	method := c.RegistrationMethod
	if method == "" {
		method = "POST"
	}
	return path, method
}

func (c *AuthConfig) GetVerificationBaseURL() string { return c.VerificationBaseURL }
