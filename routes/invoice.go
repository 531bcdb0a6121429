package routes

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"xrechnung-saas/config"
	"xrechnung-saas/middleware"
	"xrechnung-saas/models"
	"xrechnung-saas/services/invoice"
)

// Format de date accepté en entrée d'API (ISO-8601).
const apiDateFormat = "2006-01-02"

type InvoiceHandler struct {
	svc *invoice.Service
	cfg config.Config
}

func NewInvoiceHandler(svc *invoice.Service, cfg config.Config) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, cfg: cfg}
}

func SetupInvoiceRoutes(app *fiber.App, h *InvoiceHandler) {
	// Export XML sans authentification, comme la surface historique.
	app.Get("/api/invoices/:id/xml", h.exportXML)

	api := app.Group("/api/invoices", middleware.JWTMiddleware(h.cfg.JWTSecret))
	api.Get("/", h.list)
	api.Post("/", h.create)
	api.Get("/:id", h.detail)
	api.Put("/:id", h.update)
	api.Delete("/:id", h.remove)

	// Pages web (liste paginée + détail)
	app.Get("/", h.webList)
	app.Get("/invoice/:id", h.webDetail)
}

type lineItemPayload struct {
	Position    uint                `json:"position"`
	Description string              `json:"description"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitPrice   decimal.Decimal     `json:"unit_price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
	TaxRate     decimal.Decimal     `json:"tax_rate"`
}

type invoicePayload struct {
	InvoiceNumber string              `json:"invoice_number"`
	InvoiceDate   string              `json:"invoice_date"`
	DueDate       string              `json:"due_date"`
	SupplierName  string              `json:"supplier_name"`
	SupplierTaxID string              `json:"supplier_tax_id"`
	BuyerName     string              `json:"buyer_name"`
	BuyerTaxID    string              `json:"buyer_tax_id"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	TaxAmount     decimal.Decimal     `json:"tax_amount"`
	NetAmount     decimal.NullDecimal `json:"net_amount"`
	Currency      string              `json:"currency"`
	XMLContent    string              `json:"xml_content"`
	LineItems     []lineItemPayload   `json:"line_items"`
}

func (p *invoicePayload) toModel() (*models.Invoice, error) {
	invoiceDate, err := time.Parse(apiDateFormat, p.InvoiceDate)
	if err != nil {
		return nil, errors.New("invoice_date invalide (format attendu: AAAA-MM-JJ)")
	}

	inv := &models.Invoice{
		InvoiceNumber: p.InvoiceNumber,
		InvoiceDate:   invoiceDate,
		SupplierName:  p.SupplierName,
		SupplierTaxID: p.SupplierTaxID,
		BuyerName:     p.BuyerName,
		BuyerTaxID:    p.BuyerTaxID,
		TotalAmount:   p.TotalAmount,
		TaxAmount:     p.TaxAmount,
		NetAmount:     p.NetAmount,
		Currency:      p.Currency,
		XMLContent:    p.XMLContent,
	}
	if p.DueDate != "" {
		due, err := time.Parse(apiDateFormat, p.DueDate)
		if err != nil {
			return nil, errors.New("due_date invalide (format attendu: AAAA-MM-JJ)")
		}
		inv.DueDate = &due
	}
	if p.LineItems != nil {
		inv.LineItems = make([]models.LineItem, 0, len(p.LineItems))
		for _, lp := range p.LineItems {
			inv.LineItems = append(inv.LineItems, models.LineItem{
				Position:    lp.Position,
				Description: lp.Description,
				Quantity:    lp.Quantity,
				UnitPrice:   lp.UnitPrice,
				LineTotal:   lp.LineTotal,
				TaxRate:     lp.TaxRate,
			})
		}
	}
	return inv, nil
}

// GET /api/invoices?supplier=
func (h *InvoiceHandler) list(c *fiber.Ctx) error {
	invoices, err := h.svc.List(invoice.Filter{Supplier: c.Query("supplier")})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur lecture factures"})
	}

	summaries := make([]invoice.Summary, 0, len(invoices))
	for idx := range invoices {
		summaries = append(summaries, h.svc.Summarize(&invoices[idx]))
	}
	return c.JSON(fiber.Map{"invoices": summaries})
}

// GET /api/invoices/:id
func (h *InvoiceHandler) detail(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Identifiant invalide"})
	}

	inv, err := h.svc.Get(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Facture introuvable"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur lecture facture"})
	}
	return c.JSON(h.svc.Project(inv))
}

// POST /api/invoices
func (h *InvoiceHandler) create(c *fiber.Ctx) error {
	var body invoicePayload
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
	}

	inv, err := body.toModel()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.svc.Create(inv); err != nil {
		return h.writeError(c, err)
	}

	created, err := h.svc.Get(inv.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur relecture facture"})
	}
	return c.Status(fiber.StatusCreated).JSON(h.svc.Project(created))
}

// PUT /api/invoices/:id
func (h *InvoiceHandler) update(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Identifiant invalide"})
	}

	var body invoicePayload
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payload invalide"})
	}

	in, err := body.toModel()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	updated, err := h.svc.Update(uint(id), in)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(h.svc.Project(updated))
}

// DELETE /api/invoices/:id
func (h *InvoiceHandler) remove(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Identifiant invalide"})
	}

	if err := h.svc.Delete(uint(id)); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /api/invoices/:id/xml
func (h *InvoiceHandler) exportXML(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Identifiant invalide"})
	}

	body, filename, err := h.svc.ExportXML(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Facture introuvable"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur export XML"})
	}

	c.Set(fiber.HeaderContentType, "application/xml")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(body)
}

// GET /?page=&supplier=&start_date=&end_date=
func (h *InvoiceHandler) webList(c *fiber.Ctx) error {
	filter := invoice.Filter{Supplier: c.Query("supplier")}
	if v := c.Query("start_date"); v != "" {
		if d, err := time.Parse(apiDateFormat, v); err == nil {
			filter.StartDate = &d
		}
	}
	if v := c.Query("end_date"); v != "" {
		if d, err := time.Parse(apiDateFormat, v); err == nil {
			filter.EndDate = &d
		}
	}

	page := c.QueryInt("page", 1)
	invoices, total, err := h.svc.ListPage(filter, page)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Erreur lecture factures")
	}

	summaries := make([]invoice.Summary, 0, len(invoices))
	for idx := range invoices {
		summaries = append(summaries, h.svc.Summarize(&invoices[idx]))
	}

	pageSize := h.cfg.Invoicing.PaginationSize
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))

	return c.Render("invoice_list", fiber.Map{
		"Invoices":   summaries,
		"Total":      total,
		"Page":       page,
		"TotalPages": totalPages,
		"Supplier":   c.Query("supplier"),
		"StartDate":  c.Query("start_date"),
		"EndDate":    c.Query("end_date"),
	})
}

// GET /invoice/:id
func (h *InvoiceHandler) webDetail(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Identifiant invalide")
	}

	inv, err := h.svc.Get(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).SendString("Facture introuvable")
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Erreur lecture facture")
	}

	return c.Render("invoice_detail", fiber.Map{
		"Invoice": h.svc.Project(inv),
	})
}

// writeError traduit la taxonomie d'erreurs vers les statuts HTTP :
// violation d'unicité (base) → 409, introuvable → 404, validation → 400.
func (h *InvoiceHandler) writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Contrainte d'unicité violée (numéro de facture ou position de ligne en double)"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Facture introuvable"})
	case isValidationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Erreur interne"})
	}
}

var validationErrors = []error{
	models.ErrInvalidCurrency,
	models.ErrMissingInvoiceNumber,
	models.ErrInvoiceNumberTooLong,
	models.ErrMissingSupplierName,
	models.ErrMissingBuyerName,
	models.ErrMissingTaxID,
	models.ErrNegativeAmount,
	models.ErrInconsistentNet,
	models.ErrInvalidPosition,
	models.ErrMissingDescription,
	models.ErrDescriptionTooLong,
	models.ErrInconsistentTotal,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
