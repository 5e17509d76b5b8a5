package bantutrack

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/guetchou/bantudelice-tracking/ingest"
	"github.com/guetchou/bantudelice-tracking/track"
)

// trackSummary is the get_current answer.
type trackSummary struct {
	TrackingCode  string               `json:"trackingCode"`
	CurrentStatus track.Status         `json:"currentStatus"`
	LastPosition  *track.PositionEvent `json:"lastPosition,omitempty"`
	LastSequence  uint64               `json:"lastSequence"`
	DistanceKm    float64              `json:"distanceKm"`
	Subscribers   int                  `json:"subscribers"`
	CreatedAt     time.Time            `json:"createdAt"`
	ClosedAt      *time.Time           `json:"closedAt,omitempty"`
}

type statusRequest struct {
	TrackingCode string       `json:"trackingCode"`
	Status       track.Status `json:"status"`
	ChangedAt    time.Time    `json:"changedAt"`
}

type statusResponse struct {
	Applied  bool   `json:"applied"`
	Sequence uint64 `json:"sequence"`
}

type historyResponse struct {
	TrackingCode string        `json:"trackingCode"`
	Events       []track.Event `json:"events"`
}

func handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var report ingest.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		reportsTotal.WithLabelValues("malformed").Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("report", "InvalidReport", err.Error()))
		return
	}
	ack, err := core.Gateway.Report(report)
	if err != nil {
		reportsTotal.WithLabelValues("rejected").Inc()
		status, code := errorStatus(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(buildErrorPayload("report", code, err.Error()))
		return
	}
	if ack.Duplicate {
		reportsTotal.WithLabelValues("duplicate").Inc()
	} else {
		reportsTotal.WithLabelValues("accepted").Inc()
	}
	writeJSON(w, http.StatusOK, ack)
}

func handleSetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("status", "InvalidReport", err.Error()))
		return
	}
	seq, err := core.Status.SetStatus(req.TrackingCode, req.Status, req.ChangedAt)
	if err != nil {
		writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Applied: true, Sequence: seq})
}

func handleCurrent(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state, err := core.Registry.Get(code)
	if err != nil {
		writeError(w, "current", err)
		return
	}
	writeJSON(w, http.StatusOK, trackSummary{
		TrackingCode:  state.TrackingCode,
		CurrentStatus: state.CurrentStatus,
		LastPosition:  state.LastPosition,
		LastSequence:  state.LastSequence,
		DistanceKm:    state.DistanceKm,
		Subscribers:   len(state.Subscribers),
		CreatedAt:     state.CreatedAt,
		ClosedAt:      state.ClosedAt,
	})
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if _, err := core.Registry.Get(code); err != nil {
		// Closed tracks stay readable; only unknown codes 404.
		writeError(w, "history", err)
		return
	}
	since, err := parseSequence(q.Get("since"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("history", "InvalidReport", err.Error()))
		return
	}
	limit, err := parseNonNegativeInt(q.Get("limit"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("history", "InvalidReport", err.Error()))
		return
	}
	offset, err := parseNonNegativeInt(q.Get("offset"))
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(buildErrorPayload("history", "InvalidReport", err.Error()))
		return
	}
	if offset < 0 {
		offset = 0
	}
	events := core.Store.ReadPage(code, since, limit, offset)
	if events == nil {
		events = []track.Event{}
	}
	writeJSON(w, http.StatusOK, historyResponse{TrackingCode: code, Events: events})
}
