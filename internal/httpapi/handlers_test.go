package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"condicional/backend/internal/cache"
	"condicional/backend/internal/domain"
	"condicional/backend/internal/service"
	"condicional/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, "main-store", 7, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleShipments_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shipments", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// TestShipmentLifecycleOverHTTP drives create → send → settle through the
// full HTTP stack and checks the settlement response carries the sale.
func TestShipmentLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	createRec := doJSON(t, api, http.MethodPost, "/api/v1/shipments", token, domain.ShipmentCreateRequest{
		CustomerID: "cust-ana",
		Lines: []domain.ShipmentLineInput{
			{SKU: "SKU-VEST-01", Quantity: 1},
			{SKU: "SKU-CAM-01", Quantity: 2},
		},
	})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create shipment expected 201, got %d (body: %s)", createRec.Code, createRec.Body.String())
	}
	var created domain.ShipmentView
	if err := json.NewDecoder(createRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created shipment: %v", err)
	}

	sendRec := doJSON(t, api, http.MethodPost, "/api/v1/shipments/"+created.Shipment.ID+"/send", token, nil)
	if sendRec.Code != http.StatusOK {
		t.Fatalf("send expected 200, got %d (body: %s)", sendRec.Code, sendRec.Body.String())
	}
	var sent domain.ShipmentView
	if err := json.NewDecoder(sendRec.Body).Decode(&sent); err != nil {
		t.Fatalf("decode sent shipment: %v", err)
	}
	if !sent.Deadline.HasDeadline {
		t.Fatalf("expected deadline after send, got %+v", sent.Deadline)
	}

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	total := int64(0)
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:       line.ID,
			QuantityKept: line.QuantitySent,
		})
		total += int64(line.QuantitySent) * line.UnitPriceCents
	}

	settleRec := doJSON(t, api, http.MethodPost, "/api/v1/shipments/"+created.Shipment.ID+"/settle", token, domain.SettlementRequest{
		Resolutions: resolutions,
		CreateSale:  true,
		Tender: domain.PaymentTender{
			{Method: "pix", AmountCents: total},
		},
	})
	if settleRec.Code != http.StatusOK {
		t.Fatalf("settle expected 200, got %d (body: %s)", settleRec.Code, settleRec.Body.String())
	}
	var settled domain.SettleShipmentResponse
	if err := json.NewDecoder(settleRec.Body).Decode(&settled); err != nil {
		t.Fatalf("decode settle response: %v", err)
	}
	if settled.Shipment.Shipment.Status != domain.ShipmentStatusCompletedFullSale {
		t.Fatalf("expected full sale, got %s", settled.Shipment.Shipment.Status)
	}
	if settled.Sale == nil || settled.Sale.TotalCents != total {
		t.Fatalf("expected sale with total %d, got %+v", total, settled.Sale)
	}

	// A settled shipment rejects another settlement with a conflict.
	again := doJSON(t, api, http.MethodPost, "/api/v1/shipments/"+created.Shipment.ID+"/settle", token, domain.SettlementRequest{
		Resolutions: resolutions[:1],
	})
	if again.Code != http.StatusConflict {
		t.Fatalf("second settle expected 409, got %d (body: %s)", again.Code, again.Body.String())
	}
}

func TestSettleValidationReturnsFieldErrors(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	createRec := doJSON(t, api, http.MethodPost, "/api/v1/shipments", token, domain.ShipmentCreateRequest{
		CustomerID: "cust-bruno",
		Lines: []domain.ShipmentLineInput{
			{SKU: "SKU-SAIA-01", Quantity: 1},
		},
	})
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create expected 201, got %d", createRec.Code)
	}
	var created domain.ShipmentView
	if err := json.NewDecoder(createRec.Body).Decode(&created); err != nil {
		t.Fatalf("decode created shipment: %v", err)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/shipments/"+created.Shipment.ID+"/settle", token, domain.SettlementRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["fields"] == nil {
		t.Fatalf("expected fields in validation response, got %v", body)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)

	sellerToken := loginAs(t, api, "seller", "seller123")
	rec := doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", sellerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rec.Code)
	}

	adminToken := loginAs(t, api, "admin", "admin123")
	rec = doJSON(t, api, http.MethodGet, "/api/v1/audit-logs", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestUnknownShipmentReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/shipments/cond-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckoutOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: fmt.Sprintf("idem-http-%d", time.Now().UnixNano()),
		Items: []domain.CartItem{
			{SKU: "SKU-BLUSA-01", Quantity: 1},
		},
		Tender: []domain.PaymentEntry{
			{Method: "cash", AmountCents: 6900},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout response: %v", err)
	}
	if resp.Sale.TotalCents != 6900 || resp.ChangeDue != 0 {
		t.Fatalf("unexpected checkout response %+v", resp)
	}
}
