package invoice

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"xrechnung-saas/models"
)

var ErrMalformedXML = errors.New("le document XML généré est mal formé")

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// ExportXML produit le document XML d'une facture et le nom de fichier
// suggéré. Un xml_content stocké est renvoyé octet pour octet ; sinon un
// document minimal est généré, champs échappés.
func (s *Service) ExportXML(id uint) (body []byte, filename string, err error) {
	var inv models.Invoice
	if err := s.db.First(&inv, id).Error; err != nil {
		return nil, "", err
	}

	filename = fmt.Sprintf("invoice_%s.xml", inv.InvoiceNumber)

	if inv.XMLContent != "" {
		return []byte(inv.XMLContent), filename, nil
	}

	doc := s.buildMinimalXML(&inv)
	if s.cfg.XMLValidation {
		if err := checkWellFormed(doc); err != nil {
			return nil, "", err
		}
	}
	return []byte(doc), filename, nil
}

// buildMinimalXML génère la structure minimale : numéro, date, fournisseur,
// acheteur et montant total avec la devise en attribut.
func (s *Service) buildMinimalXML(inv *models.Invoice) string {
	esc := xmlEscaper.Replace
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Invoice>
    <InvoiceNumber>%s</InvoiceNumber>
    <InvoiceDate>%s</InvoiceDate>
    <Supplier>
        <Name>%s</Name>
        <TaxID>%s</TaxID>
    </Supplier>
    <Buyer>
        <Name>%s</Name>
        <TaxID>%s</TaxID>
    </Buyer>
    <TotalAmount currency="%s">%s</TotalAmount>
</Invoice>`,
		esc(inv.InvoiceNumber),
		inv.InvoiceDate.Format(s.cfg.DateFormat),
		esc(inv.SupplierName),
		esc(inv.SupplierTaxID),
		esc(inv.BuyerName),
		esc(inv.BuyerTaxID),
		esc(inv.Currency),
		inv.TotalAmount.StringFixed(s.cfg.DecimalPlaces),
	)
}

func checkWellFormed(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedXML, err)
		}
	}
}
