// Package pagination provides limit/offset extraction and response
// envelopes for list endpoints.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	// DefaultLimit is the page size used when the client does not ask for one.
	DefaultLimit = 20
	// MaxLimit caps the page size a client can request.
	MaxLimit = 100
)

// Params holds parsed pagination parameters.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FromContext extracts pagination parameters from the query string.
// Out-of-range values are clamped rather than rejected.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit, Offset: 0}

	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			p.Limit = v
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			p.Offset = v
		}
	}

	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// SQL returns the parameters as a LIMIT/OFFSET clause fragment.
func (p Params) SQL() string {
	return "LIMIT " + strconv.Itoa(p.Limit) + " OFFSET " + strconv.Itoa(p.Offset)
}

// HasNext reports whether another page exists after this one.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// NextOffset returns the offset of the following page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// Response is the standard envelope for paginated list responses.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewResponse wraps a page of results with its pagination metadata.
func NewResponse(data interface{}, total int, p Params) Response {
	return Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}
