package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestApplyEnv_OverridesDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"PORT":                       "9090",
		"DB_DRIVER":                  "postgres",
		"DATABASE_URL":               "postgres://ledger@localhost/ledger",
		"RECEIPT_PREFIX":             "TC-",
		"REGISTRATION_CUTOFF_YEAR":   "2026",
		"MAX_RETRIES":                "5",
		"LEGACY_UNLINKED_CLASS_FEES": "true",
	}))

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "TC-", cfg.ReceiptPrefix)
	assert.Equal(t, 2026, cfg.RegistrationCutoffYear)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.True(t, cfg.LegacyUnlinkedClassFees)
	assert.NoError(t, cfg.Validate())
	assert.Len(t, cfg.LedgerOptions(), 3)
}

func TestApplyEnv_RejectsMalformedNumbers(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.applyEnv(env(map[string]string{"PORT": "eighty"})))
	assert.Error(t, cfg.applyEnv(env(map[string]string{"LEGACY_UNLINKED_CLASS_FEES": "maybe"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"memory driver", func(c *Config) { c.DBDriver = DriverMemory }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, false},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }, false},
		{"bad port", func(c *Config) { c.Port = 0 }, false},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, false},
		{"empty prefix", func(c *Config) { c.ReceiptPrefix = " " }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load([]string{"-port", "7070", "-driver", "memory"})

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, DriverMemory, cfg.DBDriver)
}

func TestLogger_Builds(t *testing.T) {
	cfg := Default()
	cfg.Dev = true
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
