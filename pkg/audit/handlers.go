package audit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/permit/pkg/httputil"
	"github.com/platinummonkey/permit/pkg/observability"
)

const maxQueryLimit = 1000

// Reader is the read side of the audit trail; *DBLogger implements it
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]*AuditEvent, error)
	Export(ctx context.Context, w io.Writer, filter Filter, format ExportFormat) (int, error)
}

// Handlers serves the audit trail over HTTP
type Handlers struct {
	reader Reader
}

// NewHandlers creates audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers the audit routes behind guard, which is expected
// to require the audit:read permission
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(http.Handler) http.Handler) {
	sub := router.PathPrefix("/audit").Subrouter()
	if guard != nil {
		sub.Use(guard)
	}
	sub.HandleFunc("/events", h.ListEvents).Methods("GET")
	sub.HandleFunc("/export", h.ExportEvents).Methods("GET")
}

// ListEvents handles GET /audit/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Limit == 0 || filter.Limit > maxQueryLimit {
		filter.Limit = maxQueryLimit
	}

	events, err := h.reader.Query(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to query audit trail")
		httputil.WriteInternalError(w, fmt.Errorf("failed to query audit trail"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ExportEvents handles GET /audit/export?format=ndjson|csv
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	switch format {
	case "", ExportFormatNDJSON:
		format = ExportFormatNDJSON
		w.Header().Set("Content-Type", "application/x-ndjson")
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		httputil.WriteBadRequest(w, fmt.Sprintf("unsupported export format: %s", format))
		return
	}

	if _, err := h.reader.Export(r.Context(), w, filter, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to export audit trail")
	}
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var f Filter

	var err error
	if f.ActorID, err = queryID(q.Get("actor_id"), "actor_id"); err != nil {
		return f, err
	}
	if f.TargetUserID, err = queryID(q.Get("target_user_id"), "target_user_id"); err != nil {
		return f, err
	}
	if f.Since, err = queryTime(q.Get("since"), "since"); err != nil {
		return f, err
	}
	if f.Until, err = queryTime(q.Get("until"), "until"); err != nil {
		return f, err
	}

	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.EventTypes = append(f.EventTypes, EventType(t))
			}
		}
	}

	if f.Limit, err = httputil.ParseQueryInt(r, "limit", 0); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, fmt.Errorf("limit and offset must not be negative")
	}
	return f, nil
}

func queryID(raw, name string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", name)
	}
	return &id, nil
}

func queryTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	t = t.UTC()
	return &t, nil
}
