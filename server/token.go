package server

// Authorize decides whether a write to a space may proceed. A request
// qualifies with a token from the union of the global and the space's
// token lists, or with a whitelisted client certificate fingerprint.
// Tokens are compared as opaque bytes.
func (c *Config) Authorize(space, token, fingerprint string) bool {
	for _, t := range c.Tokens {
		if t == token {
			return true
		}
	}
	for _, t := range c.SpaceTokens[space] {
		if t == token {
			return true
		}
	}
	if fingerprint != "" {
		for _, fp := range c.Fingerprints {
			if fp == fingerprint {
				return true
			}
		}
	}
	return false
}
