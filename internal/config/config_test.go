package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "CURRENCY", "TAX_RATE", "FREE_SHIPPING_THRESHOLD", "SMTP_PORT", "KAFKA_BROKERS", "STORAGE_DRIVER", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "eur", cfg.Currency)
	assert.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.21")))
	assert.True(t, cfg.FreeShippingThreshold.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "scylla", cfg.StorageDriver)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CURRENCY", "INR")
	t.Setenv("TAX_RATE", "0.18")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://shop.example.com")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "inr", cfg.Currency)
	assert.Equal(t, "0.18", cfg.TaxRate.String())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, []string{"https://shop.example.com"}, cfg.AllowedOrigins)
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"tax rate not a number", "TAX_RATE", "abc"},
		{"tax rate above one", "TAX_RATE", "1.5"},
		{"smtp port", "SMTP_PORT", "port"},
		{"unknown driver", "STORAGE_DRIVER", "mongo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
