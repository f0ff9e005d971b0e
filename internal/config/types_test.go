// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestTypedValues_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		isValid  func() (bool, []error)
		want     bool
		sentinel error
	}{
		{"merge", IfExistsMerge.IsValid, true, nil},
		{"error policy", IfExistsError.IsValid, true, nil},
		{"empty policy", IfExistsPolicy("").IsValid, false, ErrInvalidIfExistsPolicy},
		{"wget", DownloaderWget.IsValid, true, nil},
		{"curl", DownloaderKind("curl").IsValid, false, ErrInvalidDownloaderKind},
		{"warn", LogLevelWarn.IsValid, true, nil},
		{"trace", LogLevel("trace").IsValid, false, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, errs := tt.isValid()
			if got != tt.want {
				t.Fatalf("IsValid() = %v, want %v", got, tt.want)
			}
			if !tt.want {
				if len(errs) != 1 || !errors.Is(errs[0], tt.sentinel) {
					t.Errorf("errors = %v, want one wrapping %v", errs, tt.sentinel)
				}
			}
		})
	}
}

func TestConfig_IsValid(t *testing.T) {
	t.Parallel()

	if ok, errs := DefaultConfig().IsValid(); !ok {
		t.Fatalf("default config invalid: %v", errs)
	}

	cfg := DefaultConfig()
	cfg.HTTP.MaxParallel = 0
	cfg.Mirror.URLRewrites = append(cfg.Mirror.URLRewrites, URLRewrite{To: "x"})
	ok, errs := cfg.IsValid()
	if ok {
		t.Fatal("config should be invalid")
	}
	var cfgErr *InvalidConfigError
	if !errors.As(errs[0], &cfgErr) {
		t.Fatalf("expected InvalidConfigError, got %T", errs[0])
	}
	if len(cfgErr.FieldErrors) != 2 {
		t.Errorf("expected 2 field errors, got %v", cfgErr.FieldErrors)
	}
	if !errors.Is(cfgErr.FieldErrors[0], ErrInvalidHTTPConfig) || !errors.Is(cfgErr.FieldErrors[1], ErrInvalidURLRewrite) {
		t.Errorf("unexpected field errors: %v", cfgErr.FieldErrors)
	}
}
