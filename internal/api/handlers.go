package api

import (
	"encoding/json"
	"net/http"

	"github.com/dbgwatch/dbgwatch/internal/session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	session *session.Session
}

// NewHandlers creates new HTTP handlers observing the given session
func NewHandlers(sess *session.Session) *Handlers {
	return &Handlers{session: sess}
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()

	resp := StatusResponse{
		State:         st.State.String(),
		UptimeSeconds: st.UptimeSeconds(),
		CollectorPID:  st.CollectorPID,
		LogFile:       st.LogFile,
		LinesSeen:     st.LinesSeen,
		LinesEmitted:  st.LinesEmitted,
		APIVersion:    "v1",
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFilter handles GET /api/v1/filter
func (h *Handlers) GetFilter(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()

	pids := st.Filter.PIDs
	if pids == nil {
		pids = []int{}
	}

	resp := FilterResponse{
		PIDs:        pids,
		Pattern:     st.Filter.Pattern,
		IsRegex:     st.Filter.IsRegex,
		Passthrough: st.Filter.IsPassthrough(),
		Description: st.Filter.Describe(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
