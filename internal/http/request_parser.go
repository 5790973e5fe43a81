// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for reading request bodies and query
// strings. The raw body is kept byte for byte because signatures are computed
// over it.

package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"budgetapp/internal/core"
)

// MaxBodyBytes bounds request bodies. Expense payloads are a few dozen bytes.
const MaxBodyBytes = 64 << 10

// errBodyTooLarge is reported when a body exceeds MaxBodyBytes.
var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser reads the body once and keeps the raw bytes for the
// signature check and the payload parser.
type RequestBodyParser struct {
	body        []byte
	contentType string
	err         error
}

// NewRequestBodyParser reads at most MaxBodyBytes from r.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}

	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(p.err, &tooLarge) {
		p.err = errBodyTooLarge
	}
	return p
}

// Raw returns the raw body bytes.
func (p *RequestBodyParser) Raw() []byte {
	return p.body
}

// Err reports a failure while reading the body.
func (p *RequestBodyParser) Err() error {
	return p.err
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

// Query parameters accepted by the listing endpoint.
const (
	QueryStartDate      = "start_date"
	QueryEndDate        = "end_date"
	QueryWeekCommencing = "week_commencing"
	QueryWeekContaining = "week_containing"
)

// ParseListFilter reads the listing query parameters. Empty parameters are
// ignored; a present but malformed date is a *core.ValidationError.
func ParseListFilter(query url.Values) (core.ListFilter, error) {
	var filter core.ListFilter
	targets := []struct {
		name string
		dst  **time.Time
	}{
		{QueryStartDate, &filter.StartDate},
		{QueryEndDate, &filter.EndDate},
		{QueryWeekCommencing, &filter.WeekCommencing},
		{QueryWeekContaining, &filter.WeekContaining},
	}

	for _, tt := range targets {
		raw := strings.TrimSpace(query.Get(tt.name))
		if raw == "" {
			continue
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			return core.ListFilter{}, &core.ValidationError{
				Code:    core.CodeDate,
				Message: "Invalid query",
				Field:   tt.name,
				Err:     fmt.Errorf("invalid isoformat string for '%s': %q", tt.name, raw),
			}
		}
		*tt.dst = &d
	}
	return filter, nil
}

// listCacheKey identifies a resolved listing window.
func listCacheKey(w core.Window) string {
	part := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return core.FormatDate(*t)
	}
	return "list:" + part(w.Start) + ":" + part(w.End) + ":" + part(w.WeekStart)
}
