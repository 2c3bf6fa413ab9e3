package pagination

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Params holds the bounded result size parsed from a request.
type Params struct {
	Limit int
}

// FromContext reads the "limit" query parameter. A missing value yields
// DefaultLimit; anything that is not an integer in [1, MaxLimit] is an error.
func FromContext(c echo.Context) (Params, error) {
	return Parse(c.QueryParam("limit"), DefaultLimit, MaxLimit)
}

// Parse validates raw as a limit in [1, max], returning def when raw is empty.
func Parse(raw string, def, max int) (Params, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Params{Limit: def}, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return Params{}, fmt.Errorf("limit must be an integer")
	}
	if limit < 1 || limit > max {
		return Params{}, fmt.Errorf("limit must be between 1 and %d", max)
	}
	return Params{Limit: limit}, nil
}

// Response wraps a bounded list API response.
type Response struct {
	Data    interface{} `json:"data"`
	Count   int         `json:"count"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
}

// NewResponse reports HasMore when the page came back full.
func NewResponse(data interface{}, count, limit int) *Response {
	return &Response{
		Data:    data,
		Count:   count,
		Limit:   limit,
		HasMore: limit > 0 && count >= limit,
	}
}
