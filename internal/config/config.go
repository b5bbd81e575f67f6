package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load charge le fichier .env s'il existe.
func Load() {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("⚠️  Aucun fichier .env trouvé, on continue avec les variables d'environnement du système")
	} else {
		log.Println("✅ Fichier .env chargé avec succès")
	}
}

type Config struct {
	Port          string
	Env           string
	StorageDriver string
	JWTSecret     string

	Currency              string
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal

	StripeSecretKey     string
	StripeWebhookSecret string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	KafkaBrokers    []string
	KafkaOrderTopic string

	RedisHost     string
	RedisPassword string

	// Vide : toutes les origines sont acceptées.
	AllowedOrigins []string
}

// FromEnv construit la configuration typée. Les valeurs numériques invalides
// sont des erreurs de configuration.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("APP_ENV", "development"),
		StorageDriver:         getEnv("STORAGE_DRIVER", "scylla"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		Currency:              strings.ToLower(getEnv("CURRENCY", "eur")),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		SMTPHost:              os.Getenv("SMTP_HOST"),
		SMTPUsername:          os.Getenv("SMTP_USERNAME"),
		SMTPPassword:          os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:              getEnv("SMTP_FROM", "noreply@marketplace.local"),
		KafkaOrderTopic:       getEnv("KAFKA_ORDER_TOPIC", "order-events"),
		RedisHost:             getEnv("REDIS_HOST", "localhost:6379"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.TaxRate, err = decimalEnv("TAX_RATE", "0.21"); err != nil {
		return cfg, err
	}
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return cfg, fmt.Errorf("TAX_RATE doit être compris entre 0 et 1: %s", cfg.TaxRate)
	}
	if cfg.FreeShippingThreshold, err = decimalEnv("FREE_SHIPPING_THRESHOLD", "50"); err != nil {
		return cfg, err
	}

	port := getEnv("SMTP_PORT", "587")
	if cfg.SMTPPort, err = strconv.Atoi(port); err != nil {
		return cfg, fmt.Errorf("SMTP_PORT invalide %q: %w", port, err)
	}

	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	switch cfg.StorageDriver {
	case "scylla", "memory":
	default:
		return cfg, fmt.Errorf("STORAGE_DRIVER inconnu: %q", cfg.StorageDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	raw := getEnv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s invalide %q: %w", key, raw, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
