package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// Config regroupe toute la configuration du service, résolue une seule fois
// au démarrage puis passée explicitement aux composants qui en ont besoin.
type Config struct {
	Env         string
	Port        string
	JWTSecret   string
	DatabaseURL string
	LogLevel    string
	LogFormat   string

	Invoicing Invoicing
}

// Invoicing porte les options métier de facturation (devise par défaut,
// précisions décimales, pagination, etc.).
type Invoicing struct {
	Currency               string
	DefaultTaxRate         decimal.Decimal
	PaginationSize         int
	XMLValidation          bool
	RequireTaxID           bool
	DateFormat             string
	DecimalPlaces          int32
	MaxInvoiceNumberLength int
	AllowNegativeAmounts   bool
	StrictAmounts          bool
	XMLNamespaces          map[string]string
}

// Default retourne la configuration par défaut (valeurs intégrées).
func Default() Config {
	return Config{
		Env:       "development",
		Port:      "3030",
		JWTSecret: "changeme-super-secret",
		LogLevel:  "info",
		LogFormat: "console",
		Invoicing: Invoicing{
			Currency:               "EUR",
			DefaultTaxRate:         decimal.New(1900, -2),
			PaginationSize:         20,
			XMLValidation:          true,
			RequireTaxID:           false,
			DateFormat:             "2006-01-02",
			DecimalPlaces:          2,
			MaxInvoiceNumberLength: 100,
			AllowNegativeAmounts:   false,
			StrictAmounts:          false,
			XMLNamespaces: map[string]string{
				"ubl": "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
				"cac": "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
				"cbc": "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
			},
		},
	}
}

// Load résout la configuration en trois couches : défauts intégrés, puis
// variables d'environnement, puis manifeste TOML (la dernière source gagne).
func Load(manifestPath string) (Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if manifestPath == "" {
		manifestPath = os.Getenv("XRECHNUNG_MANIFEST")
	}
	if manifestPath == "" {
		manifestPath = "xrechnung.toml"
	}
	if _, err := os.Stat(manifestPath); err == nil {
		if err := cfg.applyManifest(manifestPath); err != nil {
			return cfg, fmt.Errorf("manifeste %s: %w", manifestPath, err)
		}
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("API_ENV", c.Env)
	c.Port = getEnv("API_PORT", c.Port)
	c.JWTSecret = getEnv("API_JWT_SECRET", c.JWTSecret)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("API_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("API_LOG_FORMAT", c.LogFormat)

	inv := &c.Invoicing
	inv.Currency = getEnv("XRECHNUNG_CURRENCY", inv.Currency)
	inv.DateFormat = getEnv("XRECHNUNG_DATE_FORMAT", inv.DateFormat)
	if v, ok := os.LookupEnv("XRECHNUNG_DEFAULT_TAX_RATE"); ok && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			inv.DefaultTaxRate = d
		}
	}
	inv.PaginationSize = getEnvInt("XRECHNUNG_PAGINATION_SIZE", inv.PaginationSize)
	inv.DecimalPlaces = int32(getEnvInt("XRECHNUNG_DECIMAL_PLACES", int(inv.DecimalPlaces)))
	inv.MaxInvoiceNumberLength = getEnvInt("XRECHNUNG_MAX_INVOICE_NUMBER_LENGTH", inv.MaxInvoiceNumberLength)
	inv.XMLValidation = getEnvBool("XRECHNUNG_XML_VALIDATION", inv.XMLValidation)
	inv.RequireTaxID = getEnvBool("XRECHNUNG_REQUIRE_TAX_ID", inv.RequireTaxID)
	inv.AllowNegativeAmounts = getEnvBool("XRECHNUNG_ALLOW_NEGATIVE_AMOUNTS", inv.AllowNegativeAmounts)
	inv.StrictAmounts = getEnvBool("XRECHNUNG_STRICT_AMOUNTS", inv.StrictAmounts)
}

// manifest reflète la section plate du fichier TOML. Les montants décimaux y
// sont des chaînes pour préserver la précision exacte.
type manifest struct {
	Env         *string `toml:"env"`
	Port        *string `toml:"port"`
	JWTSecret   *string `toml:"jwt_secret"`
	DatabaseURL *string `toml:"database_url"`
	LogLevel    *string `toml:"log_level"`
	LogFormat   *string `toml:"log_format"`

	Currency               *string           `toml:"currency"`
	DefaultTaxRate         *string           `toml:"default_tax_rate"`
	PaginationSize         *int              `toml:"pagination_size"`
	XMLValidation          *bool             `toml:"xml_validation"`
	RequireTaxID           *bool             `toml:"require_tax_id"`
	DateFormat             *string           `toml:"date_format"`
	DecimalPlaces          *int32            `toml:"decimal_places"`
	MaxInvoiceNumberLength *int              `toml:"max_invoice_number_length"`
	AllowNegativeAmounts   *bool             `toml:"allow_negative_amounts"`
	StrictAmounts          *bool             `toml:"strict_amounts"`
	XMLNamespaces          map[string]string `toml:"xml_namespace"`
}

func (c *Config) applyManifest(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var m manifest
	dec := toml.NewDecoder(f)
	// Les clés inconnues sont une erreur, pas un silence.
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("clés inconnues dans le manifeste: %s", strict.String())
		}
		return err
	}

	setIf(&c.Env, m.Env)
	setIf(&c.Port, m.Port)
	setIf(&c.JWTSecret, m.JWTSecret)
	setIf(&c.DatabaseURL, m.DatabaseURL)
	setIf(&c.LogLevel, m.LogLevel)
	setIf(&c.LogFormat, m.LogFormat)

	inv := &c.Invoicing
	setIf(&inv.Currency, m.Currency)
	setIf(&inv.DateFormat, m.DateFormat)
	setIf(&inv.PaginationSize, m.PaginationSize)
	setIf(&inv.DecimalPlaces, m.DecimalPlaces)
	setIf(&inv.MaxInvoiceNumberLength, m.MaxInvoiceNumberLength)
	setIf(&inv.XMLValidation, m.XMLValidation)
	setIf(&inv.RequireTaxID, m.RequireTaxID)
	setIf(&inv.AllowNegativeAmounts, m.AllowNegativeAmounts)
	setIf(&inv.StrictAmounts, m.StrictAmounts)
	if m.DefaultTaxRate != nil {
		d, err := decimal.NewFromString(*m.DefaultTaxRate)
		if err != nil {
			return fmt.Errorf("default_tax_rate invalide: %w", err)
		}
		inv.DefaultTaxRate = d
	}
	if m.XMLNamespaces != nil {
		inv.XMLNamespaces = m.XMLNamespaces
	}

	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func (c Config) HTTPAddr() string {
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
