package app

import (
	"errors"
	"fmt"
	"strings"

	"jobchat/cmd/internal/auth"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast rather than
// starting a server that would trust caller-supplied user ids where bearer auth was requested.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.AuthRequired && strings.TrimSpace(cfg.AuthPublicKeyHex) == "" {
		return errors.New("security policy: CHAT_AUTH_REQUIRED=true but CHAT_AUTH_PASETO_PUBLIC_KEY_HEX is missing")
	}
	if cfg.AuthPublicKeyHex != "" {
		if _, err := auth.NewVerifier(cfg.AuthPublicKeyHex, cfg.AuthIssuer); err != nil {
			return fmt.Errorf("security policy: %w", err)
		}
	}
	if cfg.AuthRequired && cfg.WS.DevInsecure {
		return errors.New("security policy: CHAT_WS_DEV_INSECURE cannot be combined with CHAT_AUTH_REQUIRED")
	}

	switch cfg.PushProvider {
	case PushProviderNone, PushProviderFCM:
	default:
		return fmt.Errorf("config: unknown CHAT_PUSH_PROVIDER %q", cfg.PushProvider)
	}
	if cfg.PushAsync && cfg.PushProvider == PushProviderFCM && cfg.RedisURL == "" {
		return errors.New("config: CHAT_PUSH_ASYNC=true requires CHAT_REDIS_URL")
	}
	return nil
}
