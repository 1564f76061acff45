package app

import "errors"

// ValidateSecurityConfig enforces startup policy.
//
// Fail-fast is intentional: a server without provider credentials can accept
// connections but every send_message would fail at stream time, and an empty
// version salt would mint auto-login tokens that survive forever.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.APIKey == "" {
		return errors.New("security policy: GOOGLE_API_KEY is missing")
	}
	if cfg.VersionSalt == "" {
		return errors.New("security policy: LOOM_VERSION must not be empty")
	}
	return nil
}
