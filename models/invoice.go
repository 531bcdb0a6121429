package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"xrechnung-saas/config"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Erreurs de validation métier, renvoyées par Validate (jamais par les hooks
// de sauvegarde : les contraintes d'unicité restent du ressort de la base).
var (
	ErrInvalidCurrency      = errors.New("la devise doit être un code ISO à 3 lettres majuscules")
	ErrMissingInvoiceNumber = errors.New("numéro de facture requis")
	ErrInvoiceNumberTooLong = errors.New("numéro de facture trop long")
	ErrMissingSupplierName  = errors.New("nom du fournisseur requis")
	ErrMissingBuyerName     = errors.New("nom de l'acheteur requis")
	ErrMissingTaxID         = errors.New("identifiant fiscal requis")
	ErrNegativeAmount       = errors.New("montant négatif non autorisé")
	ErrInconsistentNet      = errors.New("net_amount incohérent avec total_amount - tax_amount")
	ErrInvalidPosition      = errors.New("la position doit être un entier positif")
	ErrMissingDescription   = errors.New("description requise")
	ErrDescriptionTooLong   = errors.New("description trop longue")
	ErrInconsistentTotal    = errors.New("line_total incohérent avec quantity * unit_price")
)

// Invoice représente une facture électronique au format XRechnung
// (standard allemand de facturation électronique).
type Invoice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InvoiceNumber string     `gorm:"size:100;uniqueIndex;not null" json:"invoice_number"`
	InvoiceDate   time.Time  `gorm:"not null" json:"invoice_date"`
	DueDate       *time.Time `json:"due_date"`

	SupplierName  string `gorm:"size:200;not null" json:"supplier_name"`
	SupplierTaxID string `gorm:"size:50" json:"supplier_tax_id"`
	BuyerName     string `gorm:"size:200;not null" json:"buyer_name"`
	BuyerTaxID    string `gorm:"size:50" json:"buyer_tax_id"`

	TotalAmount decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	TaxAmount   decimal.Decimal     `gorm:"type:decimal(12,2);default:0" json:"tax_amount"`
	NetAmount   decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"net_amount"`

	Currency string `gorm:"size:3;default:EUR" json:"currency"`

	// Contenu XML XRechnung pré-généré, renvoyé tel quel à l'export.
	XMLContent string `gorm:"type:text" json:"xml_content"`

	LineItems []LineItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"line_items"`
}

// LineItem représente une ligne de facture, possédée par exactement une facture.
type LineItem struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	InvoiceID uint `gorm:"not null;uniqueIndex:idx_invoice_position" json:"invoice_id"`

	Position    uint                `gorm:"not null;uniqueIndex:idx_invoice_position" json:"position"`
	Description string              `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal     `gorm:"type:decimal(10,3);default:1" json:"quantity"`
	UnitPrice   decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	LineTotal   decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"line_total"`
	TaxRate     decimal.Decimal     `gorm:"type:decimal(5,2);default:19.00" json:"tax_rate"`
}

func (i *Invoice) String() string {
	return fmt.Sprintf("Invoice %s - %s", i.InvoiceNumber, i.SupplierName)
}

// BeforeSave calcule le montant net s'il n'a pas été fourni.
// Un net_amount fourni explicitement n'est jamais recalculé, même incohérent.
func (i *Invoice) BeforeSave(tx *gorm.DB) error {
	if !i.NetAmount.Valid && !i.TotalAmount.IsZero() && !i.TaxAmount.IsZero() {
		i.NetAmount = decimal.NewNullDecimal(i.TotalAmount.Sub(i.TaxAmount))
	}
	return nil
}

func (l *LineItem) String() string {
	return fmt.Sprintf("Line %d: %s", l.Position, l.Description)
}

// BeforeSave calcule le total de ligne s'il n'a pas été fourni.
func (l *LineItem) BeforeSave(tx *gorm.DB) error {
	if !l.LineTotal.Valid && !l.Quantity.IsZero() && !l.UnitPrice.IsZero() {
		l.LineTotal = decimal.NewNullDecimal(l.Quantity.Mul(l.UnitPrice))
	}
	return nil
}

// Validate vérifie la cohérence de la facture selon la configuration.
// Appelée explicitement par la couche API, pas à chaque sauvegarde.
func (i *Invoice) Validate(cfg config.Invoicing) error {
	if i.InvoiceNumber == "" {
		return ErrMissingInvoiceNumber
	}
	if len(i.InvoiceNumber) > cfg.MaxInvoiceNumberLength {
		return ErrInvoiceNumberTooLong
	}
	if i.SupplierName == "" {
		return ErrMissingSupplierName
	}
	if i.BuyerName == "" {
		return ErrMissingBuyerName
	}
	if !currencyPattern.MatchString(i.Currency) {
		return ErrInvalidCurrency
	}
	if cfg.RequireTaxID && (i.SupplierTaxID == "" || i.BuyerTaxID == "") {
		return ErrMissingTaxID
	}
	if !cfg.AllowNegativeAmounts {
		if i.TotalAmount.IsNegative() || i.TaxAmount.IsNegative() {
			return ErrNegativeAmount
		}
		if i.NetAmount.Valid && i.NetAmount.Decimal.IsNegative() {
			return ErrNegativeAmount
		}
	}
	if cfg.StrictAmounts && i.NetAmount.Valid {
		if !i.NetAmount.Decimal.Equal(i.TotalAmount.Sub(i.TaxAmount)) {
			return ErrInconsistentNet
		}
	}
	for idx := range i.LineItems {
		if err := i.LineItems[idx].Validate(cfg); err != nil {
			return fmt.Errorf("ligne %d: %w", i.LineItems[idx].Position, err)
		}
	}
	return nil
}

// Validate vérifie une ligne de facture.
func (l *LineItem) Validate(cfg config.Invoicing) error {
	if l.Position < 1 {
		return ErrInvalidPosition
	}
	if l.Description == "" {
		return ErrMissingDescription
	}
	if len(l.Description) > 500 {
		return ErrDescriptionTooLong
	}
	if !cfg.AllowNegativeAmounts {
		if l.Quantity.IsNegative() || l.UnitPrice.IsNegative() {
			return ErrNegativeAmount
		}
		if l.LineTotal.Valid && l.LineTotal.Decimal.IsNegative() {
			return ErrNegativeAmount
		}
	}
	if cfg.StrictAmounts && l.LineTotal.Valid {
		if !l.LineTotal.Decimal.Equal(l.Quantity.Mul(l.UnitPrice)) {
			return ErrInconsistentTotal
		}
	}
	return nil
}

// ApplyDefaults renseigne les valeurs par défaut issues de la configuration
// pour les champs non fournis (devise, taux de TVA, quantité).
func (i *Invoice) ApplyDefaults(cfg config.Invoicing) {
	if i.Currency == "" {
		i.Currency = cfg.Currency
	}
	for idx := range i.LineItems {
		i.LineItems[idx].ApplyDefaults(cfg)
	}
}

func (l *LineItem) ApplyDefaults(cfg config.Invoicing) {
	if l.Quantity.IsZero() {
		l.Quantity = decimal.New(1, 0)
	}
	if l.TaxRate.IsZero() {
		l.TaxRate = cfg.DefaultTaxRate
	}
}
