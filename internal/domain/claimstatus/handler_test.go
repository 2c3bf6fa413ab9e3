package claimstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockClaimStore, *testClock, *echo.Echo) {
	svc, store, clock := newTestService()
	return NewHandler(svc), store, clock, echo.New()
}

func newRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "billing-user")
	return req.WithContext(ctx)
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_UpdateClaimStatus(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusDraft, clock.Now())

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPut, "/", `{"status":"submitted","notes":"sent","source":"portal"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	if err := h.UpdateClaimStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res UpdateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Claim.Status != StatusSubmitted || res.StatusEntry.ActorID != "billing-user" || res.StatusEntry.Source != SourcePortal {
		t.Errorf("unexpected result: claim=%s entry=%+v", res.Claim.Status, res.StatusEntry)
	}
}

func TestHandler_UpdateClaimStatus_InvalidStatus(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusDraft, clock.Now())

	c := e.NewContext(newRequest(http.MethodPut, "/", `{"status":"lost"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	expectHTTPError(t, h.UpdateClaimStatus(c), http.StatusBadRequest)
}

func TestHandler_UpdateClaimStatus_NotFound(t *testing.T) {
	h, _, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPut, "/", `{"status":"submitted"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPError(t, h.UpdateClaimStatus(c), http.StatusNotFound)
}

func TestHandler_UpdateClaimStatus_BadID(t *testing.T) {
	h, _, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPut, "/", `{"status":"submitted"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	expectHTTPError(t, h.UpdateClaimStatus(c), http.StatusBadRequest)
}

func TestHandler_UpdateClaimStatus_StorageUnavailable(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusDraft, clock.Now())
	store.updateErr["CLM-1"] = fmt.Errorf("connection reset")

	c := e.NewContext(newRequest(http.MethodPut, "/", `{"status":"submitted"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	expectHTTPError(t, h.UpdateClaimStatus(c), http.StatusServiceUnavailable)
}

func TestHandler_MarkPaid(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusApprovedForPayment, clock.Now())

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", `{"paymentAmount":150.00,"paymentDate":"2024-01-15","checkNumber":"1001"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	if err := h.MarkPaid(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.get(claim.ID); got.Status != StatusPaid || got.PaymentInfo.Amount != 150 {
		t.Errorf("unexpected claim: %s %+v", got.Status, got.PaymentInfo)
	}
}

func TestHandler_MarkPaid_NegativeAmount(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusApprovedForPayment, clock.Now())

	c := e.NewContext(newRequest(http.MethodPost, "/", `{"paymentAmount":-5,"paymentDate":"2024-01-15"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	expectHTTPError(t, h.MarkPaid(c), http.StatusBadRequest)
}

func TestHandler_MarkDenied_PendClaim(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusUnderReview, clock.Now())

	c := e.NewContext(newRequest(http.MethodPost, "/", `{"pendReason":"need records"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())
	if err := h.PendClaim(c); err != nil {
		t.Fatalf("pend: %v", err)
	}

	c = e.NewContext(newRequest(http.MethodPost, "/", `{}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())
	expectHTTPError(t, h.MarkDenied(c), http.StatusBadRequest)

	c = e.NewContext(newRequest(http.MethodPost, "/", `{"denialReason":"CO-97","appealable":true}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())
	if err := h.MarkDenied(c); err != nil {
		t.Fatalf("deny: %v", err)
	}

	got := store.get(claim.ID)
	if got.Status != StatusDenied || got.PendInfo != nil || got.DenialInfo == nil || !got.DenialInfo.Appealable {
		t.Errorf("unexpected claim: %s pend=%+v denial=%+v", got.Status, got.PendInfo, got.DenialInfo)
	}
}

func TestHandler_GetStatusHistory(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusDraft, clock.Now())
	h.svc.UpdateClaimStatus(context.Background(), claim.ID, StatusSubmitted, StatusPayload{}, "u")

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues(claim.ID.String())

	if err := h.GetStatusHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		History []StatusEntry `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.History) != 1 || body.History[0].Status != StatusSubmitted {
		t.Errorf("unexpected history: %+v", body.History)
	}
}

func TestHandler_GetStatusTimeline_NotFound(t *testing.T) {
	h, _, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPError(t, h.GetStatusTimeline(c), http.StatusNotFound)
}

func TestHandler_GetClaimsByStatus(t *testing.T) {
	h, store, clock, e := newTestHandler()
	seedClaim(store, "CLM-1", StatusPending, clock.Now())
	seedClaim(store, "CLM-2", StatusPaid, clock.Now())

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/?payerId=payer-1&dateTo=2024-06-01&limit=10", ""), rec)
	c.SetParamNames("status")
	c.SetParamValues("pending")

	if err := h.GetClaimsByStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Claim `json:"data"`
		Count int     `json:"count"`
		Limit int     `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Limit != 10 || body.Data[0].ClaimNumber != "CLM-1" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestHandler_GetClaimsByStatus_DefaultLimit(t *testing.T) {
	h, store, clock, e := newTestHandler()
	seedClaim(store, "CLM-1", StatusPending, clock.Now())

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "/", ""), rec)
	c.SetParamNames("status")
	c.SetParamValues("pending")

	if err := h.GetClaimsByStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Limit != DefaultQueryLimit {
		t.Errorf("expected default limit %d, got %d", DefaultQueryLimit, body.Limit)
	}
}

func TestHandler_GetClaimsByStatus_BadParams(t *testing.T) {
	tests := []struct {
		name   string
		status string
		query  string
	}{
		{"unknown status", "lost", ""},
		{"limit too large", "pending", "?limit=501"},
		{"limit zero", "pending", "?limit=0"},
		{"bad date", "pending", "?dateFrom=yesterday"},
		{"bad date field", "pending", "?dateField=created_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, e := newTestHandler()
			c := e.NewContext(newRequest(http.MethodGet, "/"+tt.query, ""), httptest.NewRecorder())
			c.SetParamNames("status")
			c.SetParamValues(tt.status)
			expectHTTPError(t, h.GetClaimsByStatus(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_Reports(t *testing.T) {
	h, store, clock, e := newTestHandler()
	seedClaim(store, "CLM-1", StatusPending, daysAgo(clock.Now(), 45))

	rec := httptest.NewRecorder()
	if err := h.GetAgingReport(e.NewContext(newRequest(http.MethodGet, "/", ""), rec)); err != nil {
		t.Fatalf("aging: %v", err)
	}
	var aging AgingReport
	if err := json.Unmarshal(rec.Body.Bytes(), &aging); err != nil {
		t.Fatalf("decode aging: %v", err)
	}
	if aging.TotalCount != 1 {
		t.Errorf("expected 1 aged claim, got %d", aging.TotalCount)
	}

	rec = httptest.NewRecorder()
	if err := h.CheckStaleClaims(e.NewContext(newRequest(http.MethodGet, "/?days=30", ""), rec)); err != nil {
		t.Fatalf("stale: %v", err)
	}
	var stale StaleReport
	if err := json.Unmarshal(rec.Body.Bytes(), &stale); err != nil {
		t.Fatalf("decode stale: %v", err)
	}
	if stale.Count != 1 || stale.DaysThreshold != 30 {
		t.Errorf("unexpected stale report: %+v", stale)
	}

	for _, q := range []string{"?days=abc", "?days=0", "?days=400"} {
		err := h.CheckStaleClaims(e.NewContext(newRequest(http.MethodGet, "/"+q, ""), httptest.NewRecorder()))
		expectHTTPError(t, err, http.StatusBadRequest)
	}

	rec = httptest.NewRecorder()
	if err := h.GetStatusStatistics(e.NewContext(newRequest(http.MethodGet, "/?startDate=2024-01-01&endDate=2024-06-30", ""), rec)); err != nil {
		t.Fatalf("statistics: %v", err)
	}
	err := h.GetStatusStatistics(e.NewContext(newRequest(http.MethodGet, "/?startDate=2024-01-01", ""), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusBadRequest)
}

func TestHandler_Process277Response(t *testing.T) {
	h, store, clock, e := newTestHandler()
	seedClaim(store, "A", StatusSubmitted, clock.Now())

	rec := httptest.NewRecorder()
	body := `{"responses":[{"claimNumber":"A","statusCode":"20"},{"claimNumber":"missing","statusCode":"20"}]}`
	if err := h.Process277Response(e.NewContext(newRequest(http.MethodPost, "/", body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sum ResponseSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Total != 2 || sum.Successful != 1 || sum.Failed != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestHandler_Process277Response_Aborted(t *testing.T) {
	h, store, clock, e := newTestHandler()
	seedClaim(store, "A", StatusSubmitted, clock.Now())
	store.findErr = fmt.Errorf("pool closed")

	rec := httptest.NewRecorder()
	body := `{"responses":[{"claimNumber":"A","statusCode":"20"}]}`
	if err := h.Process277Response(e.NewContext(newRequest(http.MethodPost, "/", body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var sum ResponseSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Aborted == nil || len(sum.Aborted.Unprocessed) != 1 {
		t.Errorf("expected unprocessed list, got %+v", sum.Aborted)
	}
}

func TestHandler_Process277Response_EmptyBatch(t *testing.T) {
	h, _, _, e := newTestHandler()
	err := h.Process277Response(e.NewContext(newRequest(http.MethodPost, "/", `{"responses":[]}`), httptest.NewRecorder()))
	expectHTTPError(t, err, http.StatusBadRequest)
}

func TestHandler_Generate276Inquiry(t *testing.T) {
	h, store, clock, e := newTestHandler()
	claim := seedClaim(store, "CLM-1", StatusSubmitted, clock.Now())

	rec := httptest.NewRecorder()
	body := `{"claimIds":["` + claim.ID.String() + `","bogus"]}`
	if err := h.Generate276Inquiry(e.NewContext(newRequest(http.MethodPost, "/", body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var inq Inquiry
	if err := json.Unmarshal(rec.Body.Bytes(), &inq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inq.Claims) != 1 || len(inq.Errors) != 1 {
		t.Errorf("unexpected inquiry: %+v", inq)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"PUT /api/v1/claims/:id/status":          false,
		"POST /api/v1/claims/:id/payment":        false,
		"POST /api/v1/claims/:id/denial":         false,
		"POST /api/v1/claims/:id/pend":           false,
		"GET /api/v1/claims/:id/status-history":  false,
		"GET /api/v1/claims/:id/status-timeline": false,
		"GET /api/v1/claims/by-status/:status":   false,
		"GET /api/v1/claims/reports/aging":       false,
		"GET /api/v1/claims/reports/stale":       false,
		"GET /api/v1/claims/reports/statistics":  false,
		"POST /api/v1/claims/edi/276":            false,
		"POST /api/v1/claims/edi/277":            false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestHandler_RequiresBillingRole(t *testing.T) {
	h, _, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims/reports/aging", nil)
	ctx := context.WithValue(req.Context(), auth.UserRolesKey, []string{"nurse"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/claims/reports/aging", nil)
	ctx = context.WithValue(req.Context(), auth.UserRolesKey, []string{"billing"})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
