package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Set("jwt_signing_key", "")
	viper.Set("session_ttl", 15*time.Minute)
	viper.Set("database_url", "sqlite::memory:")
	viper.Set("cookie_domain", "")
	viper.Set("google_web_client_id", "")
	t.Cleanup(func() {
		viper.Set("jwt_signing_key", "")
		viper.Set("session_ttl", 15*time.Minute)
		viper.Set("database_url", "sqlite::memory:")
	})
}

func TestLoadServerConfigRequiresSigningKey(t *testing.T) {
	resetConfig(t)

	_, loadErr := LoadServerConfig()
	if loadErr == nil {
		t.Fatalf("expected missing signing key error")
	}
	if !strings.Contains(loadErr.Error(), configCodeMissingJWTSigningKey) {
		t.Fatalf("expected %s, got %v", configCodeMissingJWTSigningKey, loadErr)
	}
}

func TestLoadServerConfigRejectsNonPositiveTTL(t *testing.T) {
	resetConfig(t)
	viper.Set("jwt_signing_key", "secret")
	viper.Set("session_ttl", time.Duration(0))

	_, loadErr := LoadServerConfig()
	if loadErr == nil || !strings.Contains(loadErr.Error(), configCodeInvalidSessionTTL) {
		t.Fatalf("expected %s, got %v", configCodeInvalidSessionTTL, loadErr)
	}
}

func TestLoadServerConfigRequiresDatabaseURL(t *testing.T) {
	resetConfig(t)
	viper.Set("jwt_signing_key", "secret")
	viper.Set("database_url", "")

	_, loadErr := LoadServerConfig()
	if loadErr == nil || !strings.Contains(loadErr.Error(), configCodeMissingDatabaseURL) {
		t.Fatalf("expected %s, got %v", configCodeMissingDatabaseURL, loadErr)
	}
}

func TestLoadServerConfigHappyPath(t *testing.T) {
	resetConfig(t)
	viper.Set("jwt_signing_key", "secret")
	viper.Set("session_ttl", 30*time.Minute)
	viper.Set("cookie_domain", "app.example.com")
	viper.Set("google_web_client_id", "client-id")

	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		t.Fatalf("load failed: %v", loadErr)
	}
	if string(serverConfig.JWTSigningKey) != "secret" {
		t.Fatalf("unexpected signing key")
	}
	if serverConfig.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected ttl %v", serverConfig.SessionTTL)
	}
	if serverConfig.CookieDomain != "app.example.com" || serverConfig.GoogleWebClientID != "client-id" {
		t.Fatalf("unexpected config: %+v", serverConfig)
	}
	if serverConfig.DatabaseURL != "sqlite::memory:" {
		t.Fatalf("unexpected database url %q", serverConfig.DatabaseURL)
	}
}

func TestRootCommandDefinesExpectedFlags(t *testing.T) {
	rootCmd := newRootCommand()
	for _, flagName := range []string{
		"listen_addr",
		"cookie_domain",
		"google_web_client_id",
		"jwt_signing_key",
		"session_ttl",
		"dev_insecure_http",
		"database_url",
		"enable_cors",
		"cors_allowed_origins",
	} {
		if rootCmd.Flags().Lookup(flagName) == nil {
			t.Fatalf("flag %s not registered", flagName)
		}
	}
}
