package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.CookieName != "qr_session" {
		t.Fatalf("unexpected cookie name %q", cfg.CookieName)
	}
	if cfg.ClaimTokenTTL != 20*time.Minute {
		t.Fatalf("unexpected claim token ttl %v", cfg.ClaimTokenTTL)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if cfg.CacheTTL != 600*time.Second {
		t.Fatalf("unexpected cache ttl %v", cfg.CacheTTL)
	}
	if cfg.ScanCapacity != 60 || cfg.ScanWindow != time.Minute {
		t.Fatalf("unexpected scan limits %d/%v", cfg.ScanCapacity, cfg.ScanWindow)
	}
	if cfg.EditCapacity != 10 || cfg.EditWindow != time.Minute {
		t.Fatalf("unexpected edit limits %d/%v", cfg.EditCapacity, cfg.EditWindow)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected error without a signing secret")
	}
}

func TestLoadTrimsBaseURLs(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("urls.app_base", "https://api.example.com/")
	configViper.Set("urls.frontend_base", "https://qr.example.com/")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AppBaseURL != "https://api.example.com" {
		t.Fatalf("app base url should be trimmed, got %q", cfg.AppBaseURL)
	}
	if cfg.FrontendBaseURL != "https://qr.example.com" {
		t.Fatalf("frontend base url should be trimmed, got %q", cfg.FrontendBaseURL)
	}
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("limits.edit_capacity", 0)

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for non-positive edit capacity")
	}
}
