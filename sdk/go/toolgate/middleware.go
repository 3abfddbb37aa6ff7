package toolgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/toolgate/internal/policy"
)

// Middleware guards an HTTP handler that performs tool as a side effect.
// Denied requests receive a 403 with a JSON body; an audit failure or an
// unreachable policy server receives a 503. Responses with status >= 500 are reported as failed.
func (r *Registry) Middleware(tool string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		d, err := r.ev.Evaluate(req.Context(), Request{Tool: tool})
		if err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrAuditWrite) || errors.Is(err, ErrServerUnreachable) {
				status = http.StatusServiceUnavailable
			}
			writeBlocked(w, status, d)
			return
		}
		if policy.Denied(d) != nil {
			writeBlocked(w, http.StatusForbidden, d)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				r.report(d, false, fmt.Sprintf("panic: %v", p))
				panic(p)
			}
		}()
		next.ServeHTTP(rec, req)

		if rec.status >= 500 {
			r.report(d, false, fmt.Sprintf("http %d", rec.status))
			return
		}
		r.report(d, true, "")
	})
}

func writeBlocked(w http.ResponseWriter, status int, d Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"blocked":     true,
		"decision_id": d.ID,
		"verdict":     string(d.Verdict),
		"tier":        d.Tier.String(),
		"stage":       string(d.Stage),
		"reason":      d.Reason,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}
