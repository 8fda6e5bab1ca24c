package config

import (
	"strings"
	"testing"

	"github.com/notcontrolos/hinata/internal/bytesize"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("Expected validation error for nil config")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_MissingStorageDir(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Dir = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing storage dir")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_InvalidValidationLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Validation = "extreme"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown validation level")
	}
}

func TestValidate_MemoryLimits(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Memory.MaxSingle = 2 * bytesize.GiB
	cfg.Memory.MaxTotal = bytesize.GiB

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when max_single exceeds max_total")
	}
	if !strings.Contains(err.Error(), "max_single") {
		t.Errorf("Expected max_single in error, got: %v", err)
	}
}

func TestValidate_RegionSmallerThanPacket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.RegionCapacity = 4 * bytesize.MiB
	cfg.Memory.MaxSingle = 16 * bytesize.MiB

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error when a packet cannot fit a region")
	}
}

func TestValidate_PortCollision(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 8080
	cfg.API.Enabled = true
	cfg.API.Port = 8080

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for metrics/API port collision")
	}
}

func TestValidate_InvalidCompression(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Compression = "gzip"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown compression codec")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_EncryptionKey(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Encryption = "chacha20poly1305"

	cfg.Storage.EncryptionKey = "not-hex"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for non-hex encryption key")
	}

	cfg.Storage.EncryptionKey = "abcd"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for short encryption key")
	}

	cfg.Storage.EncryptionKey = strings.Repeat("ab", 32)
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected 32-byte hex key to pass validation, got: %v", err)
	}
}
