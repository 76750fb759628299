package config

import (
	"strings"
)

// maskSecret keeps the first and last four characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 8 {
		return "***"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}

// maskTelegramToken leaves the bot id readable and masks the rest.
func maskTelegramToken(token string) string {
	if token == "" {
		return ""
	}
	botID, secret, ok := strings.Cut(token, ":")
	if !ok {
		return maskSecret(token)
	}
	return botID + ":" + maskSecret(secret)
}

// Masked returns a copy of the configuration that is safe to print.
func (c *Config) Masked() Config {
	out := *c
	out.Telegram.Token = maskTelegramToken(c.Telegram.Token)
	out.Telegram.AllowedUsers = append([]int64(nil), c.Telegram.AllowedUsers...)
	return out
}

func formatValidationError(field, message, secret string) error {
	msg := field + ": " + message
	if secret != "" {
		msg += " (value: " + maskTelegramToken(secret) + ")"
	}
	return &ValidationError{Field: field, Message: msg}
}

// ValidationError is a validation failure tied to one configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
