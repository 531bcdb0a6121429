// Package invoice porte la logique métier des factures : filtrage,
// projections JSON et export XML. Les handlers HTTP restent dans routes/.
package invoice

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"xrechnung-saas/config"
	"xrechnung-saas/models"
)

type Service struct {
	db  *gorm.DB
	cfg config.Invoicing
}

func NewService(db *gorm.DB, cfg config.Invoicing) *Service {
	return &Service{db: db, cfg: cfg}
}

// Filter décrit les critères de recherche de la liste des factures.
// Un champ vide signifie "pas de contrainte".
type Filter struct {
	Supplier  string
	StartDate *time.Time
	EndDate   *time.Time
}

func (s *Service) query(f Filter) *gorm.DB {
	q := s.db.Model(&models.Invoice{})
	if f.Supplier != "" {
		q = q.Where("LOWER(supplier_name) LIKE LOWER(?)", "%"+f.Supplier+"%")
	}
	if f.StartDate != nil {
		q = q.Where("invoice_date >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("invoice_date <= ?", *f.EndDate)
	}
	// Tri par défaut : date de facture décroissante, puis création décroissante.
	return q.Order("invoice_date DESC, created_at DESC")
}

// List renvoie les factures correspondant au filtre, sans pagination.
func (s *Service) List(f Filter) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := s.query(f).Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListPage renvoie une page de factures et le nombre total de résultats.
// La taille de page vient de la configuration (20 par défaut).
func (s *Service) ListPage(f Filter, page int) ([]models.Invoice, int64, error) {
	if page < 1 {
		page = 1
	}
	size := s.cfg.PaginationSize

	var total int64
	if err := s.query(f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var invoices []models.Invoice
	err := s.query(f).Limit(size).Offset((page - 1) * size).Find(&invoices).Error
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// Get charge une facture et ses lignes triées par position.
// Renvoie gorm.ErrRecordNotFound si elle n'existe pas.
func (s *Service) Get(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&inv, id).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Create valide puis persiste une facture avec ses lignes imbriquées.
// Les montants dérivés (net_amount, line_total) sont calculés par les hooks
// du modèle ; les contraintes d'unicité sont vérifiées par la base au commit
// (gorm.ErrDuplicatedKey), pas par une pré-vérification applicative.
func (s *Service) Create(inv *models.Invoice) error {
	inv.ApplyDefaults(s.cfg)
	if err := inv.Validate(s.cfg); err != nil {
		return err
	}
	if err := s.db.Create(inv).Error; err != nil {
		return err
	}
	log.Info().Str("invoice_number", inv.InvoiceNumber).Uint("id", inv.ID).Msg("facture créée")
	return nil
}

// Update met à jour l'en-tête d'une facture existante. Le numéro de facture
// est immuable : il n'est jamais réécrit. Si in.LineItems est non nil, les
// lignes existantes sont remplacées dans la même transaction.
// Un net_amount nul dans in est traité comme "effacé" et donc rederivé.
func (s *Service) Update(id uint, in *models.Invoice) (*models.Invoice, error) {
	existing, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	existing.InvoiceDate = in.InvoiceDate
	existing.DueDate = in.DueDate
	existing.SupplierName = in.SupplierName
	existing.SupplierTaxID = in.SupplierTaxID
	existing.BuyerName = in.BuyerName
	existing.BuyerTaxID = in.BuyerTaxID
	existing.TotalAmount = in.TotalAmount
	existing.TaxAmount = in.TaxAmount
	existing.NetAmount = in.NetAmount
	if in.Currency != "" {
		existing.Currency = in.Currency
	}
	existing.XMLContent = in.XMLContent

	replaceLines := in.LineItems != nil
	newLines := in.LineItems
	existing.LineItems = nil

	if err := existing.Validate(s.cfg); err != nil {
		return nil, err
	}
	for idx := range newLines {
		newLines[idx].ID = 0
		newLines[idx].InvoiceID = id
		newLines[idx].ApplyDefaults(s.cfg)
		if err := newLines[idx].Validate(s.cfg); err != nil {
			return nil, err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("LineItems").Save(existing).Error; err != nil {
			return err
		}
		if replaceLines {
			if err := tx.Where("invoice_id = ?", id).Delete(&models.LineItem{}).Error; err != nil {
				return err
			}
			if len(newLines) > 0 {
				if err := tx.Create(&newLines).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// Delete supprime une facture ; ses lignes suivent (cascade possédée par la
// facture). La suppression explicite des lignes couvre les bases dont la
// contrainte FK n'a pas été installée par AutoMigrate.
func (s *Service) Delete(id uint) error {
	inv, err := s.Get(id)
	if err != nil {
		return err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", id).Delete(&models.LineItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Invoice{}, id).Error
	})
	if err != nil {
		return err
	}
	log.Info().Str("invoice_number", inv.InvoiceNumber).Uint("id", id).Msg("facture supprimée")
	return nil
}
