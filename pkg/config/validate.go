package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/notcontrolos/hinata/pkg/packet/validate"
)

// Validate checks the configuration for structural and semantic errors.
//
// Struct tag validation (required, oneof, ranges) runs first, followed by
// cross-field checks that tags cannot express. The first tag failure is
// reported with its field path and failed rule so the user can find the
// offending setting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %q failed validation rule %q (value: %v)",
				fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	return validateSemantics(cfg)
}

// validateSemantics covers the constraints struct tags cannot express.
func validateSemantics(cfg *Config) error {
	if _, err := validate.ParseLevel(cfg.Storage.Validation); err != nil {
		return fmt.Errorf("storage.validation: %w", err)
	}

	if cfg.Memory.MaxSingle > cfg.Memory.MaxTotal {
		return fmt.Errorf("memory.max_single (%s) exceeds memory.max_total (%s)",
			cfg.Memory.MaxSingle, cfg.Memory.MaxTotal)
	}

	// A single packet record must fit inside one region log.
	if uint64(cfg.Storage.RegionCapacity) < uint64(cfg.Memory.MaxSingle) {
		return fmt.Errorf("storage.region_capacity (%s) is smaller than memory.max_single (%s)",
			cfg.Storage.RegionCapacity, cfg.Memory.MaxSingle)
	}

	if cfg.Storage.Encryption != "" && cfg.Storage.Encryption != "none" {
		key, err := hex.DecodeString(cfg.Storage.EncryptionKey)
		if err != nil {
			return fmt.Errorf("storage.encryption_key is not valid hex: %w", err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return fmt.Errorf("storage.encryption_key must be %d hex characters, got %d",
				2*chacha20poly1305.KeySize, len(cfg.Storage.EncryptionKey))
		}
	}

	if cfg.Metrics.Enabled && cfg.API.Enabled && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port and api.port both set to %d", cfg.Metrics.Port)
	}

	if cfg.Worker.Workers > 8*runtime.NumCPU() {
		return fmt.Errorf("worker.workers (%d) is unreasonably high for %d CPUs",
			cfg.Worker.Workers, runtime.NumCPU())
	}

	return nil
}
