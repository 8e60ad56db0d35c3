package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/curator/pkg/httputil"
	"github.com/platinummonkey/curator/pkg/observability"
)

// Searcher finds stored audit events.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportEvents).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit search failed")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Audit export failed")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+format.Filename())
	if err := Export(w, events, format); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Audit export interrupted")
	}
}

func parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	var filter SearchFilter
	q := r.URL.Query()

	for _, p := range []struct {
		key  string
		dest **time.Time
	}{{"start_time", &filter.StartTime}, {"end_time", &filter.EndTime}} {
		if s := q.Get(p.key); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httputil.WriteBadRequest(w, "invalid "+p.key+": expected RFC3339")
				return filter, false
			}
			*p.dest = &t
		}
	}

	actor, err := httputil.ParseQueryUUID(r, "actor_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	filter.ActorID = actor

	if types := q.Get("event_type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.EventTypes = append(filter.EventTypes, EventType(strings.TrimSpace(t)))
		}
	}
	filter.ResourceType = ResourceType(q.Get("resource_type"))
	filter.ResourceID = q.Get("resource_id")

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultSearchLimit); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.Limit > MaxSearchLimit {
		filter.Limit = MaxSearchLimit
	}
	return filter, true
}
