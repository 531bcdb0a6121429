package invoice

import (
	"xrechnung-saas/models"
)

// Les montants sont sérialisés en chaînes à précision fixe, jamais en
// float64, pour éviter toute perte d'arrondi côté client.

type Summary struct {
	ID            uint   `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	SupplierName  string `json:"supplier_name"`
	BuyerName     string `json:"buyer_name"`
	TotalAmount   string `json:"total_amount"`
	Currency      string `json:"currency"`
}

type Detail struct {
	ID            uint             `json:"id"`
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date"`
	DueDate       *string          `json:"due_date"`
	SupplierName  string           `json:"supplier_name"`
	SupplierTaxID string           `json:"supplier_tax_id"`
	BuyerName     string           `json:"buyer_name"`
	BuyerTaxID    string           `json:"buyer_tax_id"`
	TotalAmount   string           `json:"total_amount"`
	TaxAmount     string           `json:"tax_amount"`
	NetAmount     *string          `json:"net_amount"`
	Currency      string           `json:"currency"`
	LineItems     []LineProjection `json:"line_items"`
}

type LineProjection struct {
	Position    uint    `json:"position"`
	Description string  `json:"description"`
	Quantity    string  `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	LineTotal   *string `json:"line_total"`
	TaxRate     string  `json:"tax_rate"`
}

// Summarize construit la projection compacte utilisée par la liste.
func (s *Service) Summarize(inv *models.Invoice) Summary {
	return Summary{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate.Format("2006-01-02"),
		SupplierName:  inv.SupplierName,
		BuyerName:     inv.BuyerName,
		TotalAmount:   inv.TotalAmount.StringFixed(s.cfg.DecimalPlaces),
		Currency:      inv.Currency,
	}
}

// Project construit la projection complète d'une facture avec ses lignes.
func (s *Service) Project(inv *models.Invoice) Detail {
	places := s.cfg.DecimalPlaces

	d := Detail{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate.Format("2006-01-02"),
		SupplierName:  inv.SupplierName,
		SupplierTaxID: inv.SupplierTaxID,
		BuyerName:     inv.BuyerName,
		BuyerTaxID:    inv.BuyerTaxID,
		TotalAmount:   inv.TotalAmount.StringFixed(places),
		TaxAmount:     inv.TaxAmount.StringFixed(places),
		Currency:      inv.Currency,
		LineItems:     make([]LineProjection, 0, len(inv.LineItems)),
	}
	if inv.DueDate != nil {
		due := inv.DueDate.Format("2006-01-02")
		d.DueDate = &due
	}
	if inv.NetAmount.Valid {
		net := inv.NetAmount.Decimal.StringFixed(places)
		d.NetAmount = &net
	}

	for _, item := range inv.LineItems {
		lp := LineProjection{
			Position:    item.Position,
			Description: item.Description,
			Quantity:    item.Quantity.StringFixed(3),
			UnitPrice:   item.UnitPrice.StringFixed(places),
			TaxRate:     item.TaxRate.StringFixed(places),
		}
		if item.LineTotal.Valid {
			lt := item.LineTotal.Decimal.StringFixed(places)
			lp.LineTotal = &lt
		}
		d.LineItems = append(d.LineItems, lp)
	}
	return d
}
