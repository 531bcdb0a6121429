package routes_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"xrechnung-saas/config"
	"xrechnung-saas/models"
	"xrechnung-saas/routes"
	"xrechnung-saas/services/invoice"
)

func newTestApp(t *testing.T) (*fiber.App, *invoice.Service, config.Config) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Invoice{}, &models.LineItem{}))

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"

	engine := html.New("../views", ".html")
	app := fiber.New(fiber.Config{Views: engine})

	svc := invoice.NewService(db, cfg.Invoicing)
	routes.SetupAuthRoutes(app, routes.NewAuthHandler(db, cfg.JWTSecret))
	routes.SetupInvoiceRoutes(app, routes.NewInvoiceHandler(svc, cfg))

	return app, svc, cfg
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uint(1),
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dst), "corps: %s", data)
}

func seedViaAPI(t *testing.T, app *fiber.App, token, number, supplier string) uint {
	t.Helper()
	req := jsonRequest("POST", "/api/invoices", fiber.Map{
		"invoice_number": number,
		"invoice_date":   "2024-01-15",
		"supplier_name":  supplier,
		"buyer_name":     "Test Buyer",
		"total_amount":   "119.00",
		"tax_amount":     "19.00",
		"line_items": []fiber.Map{
			{"position": 1, "description": "Produit", "quantity": "3.000", "unit_price": "25.00"},
		},
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var detail invoice.Detail
	decodeBody(t, resp, &detail)
	return detail.ID
}

func TestListRequiresAuthentication(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/invoices", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body["error"])
}

func TestDetailRequiresAuthentication(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/invoices/1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestListAuthenticatedShape(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	seedViaAPI(t, app, token, "INV-2024-001", "Test Supplier Ltd.")

	req := httptest.NewRequest("GET", "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Invoices []invoice.Summary `json:"invoices"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Invoices, 1)
	entry := body.Invoices[0]
	assert.Equal(t, "INV-2024-001", entry.InvoiceNumber)
	assert.Equal(t, "2024-01-15", entry.InvoiceDate)
	assert.Equal(t, "Test Supplier Ltd.", entry.SupplierName)
	assert.Equal(t, "119.00", entry.TotalAmount) // chaîne, pas flottant
	assert.Equal(t, "EUR", entry.Currency)
}

func TestListSupplierFilter(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	seedViaAPI(t, app, token, "INV-A", "Test Supplier Ltd.")
	seedViaAPI(t, app, token, "INV-B", "Another Supplier")

	req := httptest.NewRequest("GET", "/api/invoices?supplier=Test+Supplier", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Invoices []invoice.Summary `json:"invoices"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Invoices, 1)
	assert.Equal(t, "INV-A", body.Invoices[0].InvoiceNumber)
}

func TestCreateDerivesAmounts(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)

	req := jsonRequest("POST", "/api/invoices", fiber.Map{
		"invoice_number": "INV-2024-002",
		"invoice_date":   "2024-01-15",
		"supplier_name":  "Test Supplier",
		"buyer_name":     "Test Buyer",
		"total_amount":   "119.00",
		"tax_amount":     "19.00",
		"line_items": []fiber.Map{
			{"position": 1, "description": "Produit", "quantity": "3.000", "unit_price": "25.00"},
		},
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var detail invoice.Detail
	decodeBody(t, resp, &detail)
	require.NotNil(t, detail.NetAmount)
	assert.Equal(t, "100.00", *detail.NetAmount)
	require.Len(t, detail.LineItems, 1)
	require.NotNil(t, detail.LineItems[0].LineTotal)
	assert.Equal(t, "75.00", *detail.LineItems[0].LineTotal)
}

func TestCreateDuplicateNumberConflict(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	seedViaAPI(t, app, token, "INV-DUP", "S")

	req := jsonRequest("POST", "/api/invoices", fiber.Map{
		"invoice_number": "INV-DUP",
		"invoice_date":   "2024-01-16",
		"supplier_name":  "S2",
		"buyer_name":     "B2",
		"total_amount":   "200.00",
		"tax_amount":     "20.00",
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestCreateInvalidCurrencyRejected(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)

	req := jsonRequest("POST", "/api/invoices", fiber.Map{
		"invoice_number": "INV-CUR",
		"invoice_date":   "2024-01-16",
		"supplier_name":  "S",
		"buyer_name":     "B",
		"total_amount":   "200.00",
		"currency":       "EURO",
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDetailNotFound(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)

	req := httptest.NewRequest("GET", "/api/invoices/42", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestXMLExportWithoutAuthentication(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	id := seedViaAPI(t, app, token, "INV-2024-XML", "S")

	// pas d'en-tête Authorization : la surface historique n'en exige pas
	resp, err := app.Test(httptest.NewRequest("GET", fmt.Sprintf("/api/invoices/%d/xml", id), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Contains(t, resp.Header.Get("Content-Type"), "application/xml")
	assert.Equal(t, `attachment; filename="invoice_INV-2024-XML.xml"`,
		resp.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<InvoiceNumber>INV-2024-XML</InvoiceNumber>")
	assert.Contains(t, string(data), `<TotalAmount currency="EUR">119.00</TotalAmount>`)
}

func TestXMLExportNotFound(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/invoices/999/xml", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUpdateAndDelete(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	id := seedViaAPI(t, app, token, "INV-UD", "S")

	req := jsonRequest("PUT", fmt.Sprintf("/api/invoices/%d", id), fiber.Map{
		"invoice_date":  "2024-02-01",
		"supplier_name": "Fournisseur modifié",
		"buyer_name":    "Test Buyer",
		"total_amount":  "238.00",
		"tax_amount":    "38.00",
	})
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var detail invoice.Detail
	decodeBody(t, resp, &detail)
	assert.Equal(t, "INV-UD", detail.InvoiceNumber) // numéro immuable
	assert.Equal(t, "Fournisseur modifié", detail.SupplierName)
	require.NotNil(t, detail.NetAmount)
	assert.Equal(t, "200.00", *detail.NetAmount)

	del := httptest.NewRequest("DELETE", fmt.Sprintf("/api/invoices/%d", id), nil)
	del.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(del)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	get := httptest.NewRequest("GET", fmt.Sprintf("/api/invoices/%d", id), nil)
	get.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(get)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestWebListPage(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	seedViaAPI(t, app, token, "INV-WEB", "Test Supplier Ltd.")

	resp, err := app.Test(httptest.NewRequest("GET", "/?supplier=Test", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INV-WEB")
	assert.Contains(t, string(data), "Test Supplier Ltd.")
}

func TestWebDetailPage(t *testing.T) {
	app, _, cfg := newTestApp(t)
	token := signToken(t, cfg.JWTSecret)
	id := seedViaAPI(t, app, token, "INV-WEB-D", "S")

	resp, err := app.Test(httptest.NewRequest("GET", fmt.Sprintf("/invoice/%d", id), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INV-WEB-D")
	assert.Contains(t, string(data), "75.00") // total de ligne dérivé
}
