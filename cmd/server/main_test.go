package main

import (
	"testing"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short auth secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "1234"})
	if err == nil {
		t.Fatalf("expected short manager pin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigRequiresCallbackTokenWithDaraja(t *testing.T) {
	cfg := config.Config{
		AuthSecret: strongSecret,
		ManagerPIN: "739154",
		Mpesa: config.MpesaConfig{
			ConsumerKey:    "key",
			ConsumerSecret: "secret",
			ShortCode:      "174379",
			PassKey:        "passkey",
		},
	}
	if err := validateSecurityConfig(cfg); err == nil {
		t.Fatal("expected missing callback token to be rejected")
	}
	cfg.Mpesa.CallbackToken = "cb-token-0123456789"
	if err := validateSecurityConfig(cfg); err != nil {
		t.Fatalf("expected config with callback token to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"123456", "000000", "777777", "234567", "876543", "112233"}
	for _, pin := range weak {
		if err := validatePINStrength(pin); err == nil {
			t.Errorf("expected %s to be rejected", pin)
		}
	}
	for _, pin := range []string{"739154", "402817"} {
		if err := validatePINStrength(pin); err != nil {
			t.Errorf("expected %s to pass, got %v", pin, err)
		}
	}
}
