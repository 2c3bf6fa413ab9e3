package claimstatus

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, billing
	readGroup := api.Group("", auth.RequireRole("admin", "billing"))
	readGroup.GET("/claims/:id/status-history", h.GetStatusHistory)
	readGroup.GET("/claims/:id/status-timeline", h.GetStatusTimeline)
	readGroup.GET("/claims/by-status/:status", h.GetClaimsByStatus)
	readGroup.GET("/claims/reports/aging", h.GetAgingReport)
	readGroup.GET("/claims/reports/stale", h.CheckStaleClaims)
	readGroup.GET("/claims/reports/statistics", h.GetStatusStatistics)

	// Write endpoints – admin, billing
	writeGroup := api.Group("", auth.RequireRole("admin", "billing"))
	writeGroup.PUT("/claims/:id/status", h.UpdateClaimStatus)
	writeGroup.POST("/claims/:id/payment", h.MarkPaid)
	writeGroup.POST("/claims/:id/denial", h.MarkDenied)
	writeGroup.POST("/claims/:id/pend", h.PendClaim)
	writeGroup.POST("/claims/edi/276", h.Generate276Inquiry)
	writeGroup.POST("/claims/edi/277", h.Process277Response)
}

// httpError maps engine errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "claim store unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func claimIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actorID(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

// parseBound parses a query date. A calendar-date upper bound covers the
// whole day.
func parseBound(raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := ParseDate(raw)
	if err != nil {
		return nil, err
	}
	t := d.Time
	if upper && len(raw) == len(dateLayout) {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

type statusRequest struct {
	Status string `json:"status"`
	StatusPayload
}

func (h *Handler) UpdateClaimStatus(c echo.Context) error {
	id, err := claimIDParam(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	res, err := h.svc.UpdateClaimStatus(c.Request().Context(), id, status, req.StatusPayload, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) transition(c echo.Context, fn func(context.Context, uuid.UUID, StatusPayload, string) (*UpdateResult, error)) error {
	id, err := claimIDParam(c)
	if err != nil {
		return err
	}
	var payload StatusPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := fn(c.Request().Context(), id, payload, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkPaid(c echo.Context) error { return h.transition(c, h.svc.MarkPaid) }

func (h *Handler) MarkDenied(c echo.Context) error { return h.transition(c, h.svc.MarkDenied) }

func (h *Handler) PendClaim(c echo.Context) error { return h.transition(c, h.svc.PendClaim) }

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := claimIDParam(c)
	if err != nil {
		return err
	}
	history, err := h.svc.GetStatusHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"claimId": id,
		"history": history,
	})
}

func (h *Handler) GetStatusTimeline(c echo.Context) error {
	id, err := claimIDParam(c)
	if err != nil {
		return err
	}
	tl, err := h.svc.GetStatusTimeline(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tl)
}

func (h *Handler) GetClaimsByStatus(c echo.Context) error {
	status, err := ParseStatus(c.Param("status"))
	if err != nil {
		return httpError(err)
	}
	pg, err := pagination.FromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	from, err := parseBound(c.QueryParam("dateFrom"), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dateFrom: "+err.Error())
	}
	to, err := parseBound(c.QueryParam("dateTo"), true)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid dateTo: "+err.Error())
	}

	claims, err := h.svc.GetClaimsByStatus(c.Request().Context(), status, StatusQuery{
		PayerID:    c.QueryParam("payerId"),
		ProviderID: c.QueryParam("providerId"),
		DateField:  DateField(c.QueryParam("dateField")),
		DateFrom:   from,
		DateTo:     to,
		Limit:      pg.Limit,
	})
	if err != nil {
		return httpError(err)
	}
	if claims == nil {
		claims = []*Claim{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(claims, len(claims), pg.Limit))
}

func (h *Handler) GetAgingReport(c echo.Context) error {
	rep, err := h.svc.GetAgingReport(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) CheckStaleClaims(c echo.Context) error {
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
		}
		if n == 0 {
			return httpError(&ValidationError{Field: "days", Message: "must be between 1 and 365"})
		}
		days = n
	}
	rep, err := h.svc.CheckStaleClaims(c.Request().Context(), days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) GetStatusStatistics(c echo.Context) error {
	start, err := parseBound(c.QueryParam("startDate"), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid startDate: "+err.Error())
	}
	end, err := parseBound(c.QueryParam("endDate"), true)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endDate: "+err.Error())
	}
	if start == nil || end == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "startDate and endDate are required")
	}
	st, err := h.svc.GetStatusStatistics(c.Request().Context(), *start, *end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type inquiryRequest struct {
	ClaimIDs []string `json:"claimIds"`
}

func (h *Handler) Generate276Inquiry(c echo.Context) error {
	var req inquiryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inq, err := h.svc.Generate276Inquiry(c.Request().Context(), req.ClaimIDs)
	if err != nil {
		return httpError(err)
	}
	if inq.Aborted != nil {
		return c.JSON(http.StatusServiceUnavailable, inq)
	}
	return c.JSON(http.StatusOK, inq)
}

type responseRequest struct {
	Responses []ResponseEntry `json:"responses"`
}

func (h *Handler) Process277Response(c echo.Context) error {
	var req responseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sum, err := h.svc.Process277Response(c.Request().Context(), req.Responses, actorID(c))
	if err != nil {
		return httpError(err)
	}
	if sum.Aborted != nil {
		return c.JSON(http.StatusServiceUnavailable, sum)
	}
	return c.JSON(http.StatusOK, sum)
}
