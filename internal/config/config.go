package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"bbpayments-be/internal/payment"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	DBSSLMode   string
	AppPort     string
	AppEnv      string
	StoreDriver string

	RedisAddr     string
	RedisPassword string

	// InternalServiceKey unlocks the internal rate limit tier.
	InternalServiceKey string
	StorefrontOrigin   string

	Gateway GatewayConfig
}

// GatewayConfig is the merchant configuration of the BB Payments gateway.
type GatewayConfig struct {
	LiveURL             string
	ConfirmURL          string
	Organization        string
	Prefix              string
	InvoicePrefix       string
	GenericSKU          string
	TestMode            bool
	SupportedCurrencies []string
	StoreCurrency       string
	DefaultLocale       string
	Installments        int
	GoodURL             string
	CancelURL           string
	ReceiptURL          string
	Protocol            string
	StrictEcho          bool
	PublicKey           string
	ConfirmTimeout      time.Duration
	InsecureSkipVerify  bool
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:        os.Getenv("DB_HOST"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBPort:        os.Getenv("DB_PORT"),
		DBSSLMode:     getenv("DB_SSLMODE", "disable"),
		AppPort:       getenv("APP_PORT", "8080"),
		AppEnv:        os.Getenv("APP_ENV"),
		StoreDriver:   strings.ToLower(getenv("STORE_DRIVER", StoreDriverPostgres)),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		InternalServiceKey: os.Getenv("INTERNAL_SERVICE_KEY"),
		StorefrontOrigin:   os.Getenv("STOREFRONT_ORIGIN"),

		Gateway: GatewayConfig{
			LiveURL:             getenv("BB_LIVE_URL", "https://checkout.kabbalah.info/en/projects/bb_books/external_client"),
			ConfirmURL:          getenv("BB_CONFIRM_URL", "https://checkout.kabbalah.info/en/payments"),
			Organization:        getenv("BB_ORGANIZATION", payment.DefaultOrganization),
			Prefix:              lookupEnv("BB_PREFIX", payment.DefaultPrefix),
			InvoicePrefix:       os.Getenv("BB_INVOICE_PREFIX"),
			GenericSKU:          os.Getenv("BB_GENERIC_SKU"),
			TestMode:            getenvBool("BB_TEST_MODE", false),
			SupportedCurrencies: getenvList("BB_SUPPORTED_CURRENCIES", payment.DefaultSupportedCurrencies),
			StoreCurrency:       strings.ToUpper(getenv("STORE_CURRENCY", "USD")),
			DefaultLocale:       getenv("STORE_LOCALE", "en"),
			Installments:        getenvInt("BB_INSTALLMENTS", payment.DefaultInstallments),
			GoodURL:             os.Getenv("BB_GOOD_URL"),
			CancelURL:           os.Getenv("BB_CANCEL_URL"),
			ReceiptURL:          os.Getenv("BB_RECEIPT_URL"),
			Protocol:            strings.ToLower(getenv("BB_PROTOCOL", string(payment.ProtocolRoundTrip))),
			StrictEcho:          getenvBool("BB_STRICT_ECHO", false),
			PublicKey:           os.Getenv("BB_PUBLIC_KEY"),
			ConfirmTimeout:      getenvDuration("BB_CONFIRM_TIMEOUT", payment.DefaultConfirmTimeout),
			InsecureSkipVerify:  getenvBool("BB_INSECURE_SKIP_VERIFY", false),
		},
	}

	if cfg.StoreDriver != StoreDriverMemory && cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}

	return cfg
}

// PaymentSettings converts the gateway section into the immutable settings
// value consumed by the payment package.
func (c *Config) PaymentSettings() payment.Settings {
	g := c.Gateway
	return payment.Settings{
		LiveURL:             g.LiveURL,
		ConfirmURL:          g.ConfirmURL,
		Organization:        g.Organization,
		Prefix:              g.Prefix,
		InvoicePrefix:       g.InvoicePrefix,
		GenericSKU:          g.GenericSKU,
		TestMode:            g.TestMode,
		SupportedCurrencies: append([]string(nil), g.SupportedCurrencies...),
		StoreCurrency:       g.StoreCurrency,
		DefaultLocale:       g.DefaultLocale,
		Installments:        g.Installments,
		GoodURL:             g.GoodURL,
		CancelURL:           g.CancelURL,
		ReceiptURL:          g.ReceiptURL,
		Protocol:            payment.Protocol(g.Protocol),
		StrictEcho:          g.StrictEcho,
		PublicKeyPEM:        g.PublicKey,
		ConfirmTimeout:      g.ConfirmTimeout,
		InsecureSkipVerify:  g.InsecureSkipVerify,
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// lookupEnv keeps an explicitly empty value; only an unset key falls back.
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getenvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getenvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
