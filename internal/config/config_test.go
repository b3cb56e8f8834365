package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeller    = "0x1111111111111111111111111111111111111111"
	testInspector = "0x2222222222222222222222222222222222222222"
	testLender    = "0x3333333333333333333333333333333333333333"
)

func setRoles(t *testing.T) {
	t.Helper()
	t.Setenv("SELLER_ADDR", testSeller)
	t.Setenv("INSPECTOR_ADDR", testInspector)
	t.Setenv("LENDER_ADDR", testLender)
}

func TestLoad_WithRoles(t *testing.T) {
	setRoles(t)
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, testSeller, cfg.SellerAddr)
	assert.Equal(t, DefaultRegistryAddr, cfg.RegistryAddr)
	assert.Equal(t, DefaultEscrowAddr, cfg.EscrowAddr)
	assert.Equal(t, DefaultRateLimitRPS, cfg.RateLimitRPS)
}

func TestLoad_NormalizesCase(t *testing.T) {
	setRoles(t)
	t.Setenv("LENDER_ADDR", "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", cfg.LenderAddr)
}

func TestLoad_MissingSeller(t *testing.T) {
	setRoles(t)
	t.Setenv("SELLER_ADDR", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELLER_ADDR is required")
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		RegistryAddr:  DefaultRegistryAddr,
		EscrowAddr:    DefaultEscrowAddr,
		SellerAddr:    testSeller,
		InspectorAddr: testInspector,
		LenderAddr:    testLender,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"malformed inspector", func(c *Config) { c.InspectorAddr = "inspector" }, "INSPECTOR_ADDR must be"},
		{"seller doubles as lender", func(c *Config) { c.LenderAddr = testSeller }, "LENDER_ADDR must differ from SELLER_ADDR"},
		{"production without admin secret", func(c *Config) { c.Env = "production" }, "ADMIN_SECRET is required"},
		{"production with admin secret", func(c *Config) { c.Env = "production"; c.AdminSecret = "s3cret" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	assert.True(t, (&Config{Env: "development"}).IsDevelopment())
	assert.True(t, (&Config{Env: "production"}).IsProduction())
	assert.False(t, (&Config{Env: "staging"}).IsProduction())
}

func TestLoad_CORSOrigins(t *testing.T) {
	setRoles(t)
	t.Setenv("CORS_ORIGINS", " https://app.example.com, ,https://admin.example.com ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
}

func TestLoad_NoCORSOrigins(t *testing.T) {
	setRoles(t)
	t.Setenv("CORS_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.CORSOrigins)
}
