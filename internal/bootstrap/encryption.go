package bootstrap

import (
	"log/slog"

	"github.com/consultaflow/dispatcher/internal/data/cryptoutil"
)

// CreateEncryptor builds the credential sealer for key. An empty key or one
// that fails to initialize falls back to the reversible noop sealer with a warning.
//
//nolint:ireturn // Returning interface is intentional for encryptor abstraction
func CreateEncryptor(key string, logger *slog.Logger) cryptoutil.Encryptor {
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := cryptoutil.FromKey(key)
	if err != nil {
		logger.Warn("failed to create credential encryptor, storing credentials unsealed", "error", err)
		return cryptoutil.Noop{}
	}
	if _, ok := enc.(cryptoutil.Noop); ok {
		logger.Warn("CREDENTIAL_KEY is empty, storing credentials unsealed")
	}
	return enc
}
