package api

import (
	"encoding/json"
	"net/http"

	"github.com/davisbuilds/agentmonitor/internal/validate"
)

type ingestResponse struct {
	Received   int     `json:"received"`
	IDs        []int64 `json:"ids"`
	Duplicates int     `json:"duplicates"`
}

type ingestErrorResponse struct {
	Error   string                `json:"error"`
	Details []validate.FieldError `json:"details"`
}

type batchRejection struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

type batchResponse struct {
	Received   int              `json:"received"`
	IDs        []int64          `json:"ids"`
	Duplicates int              `json:"duplicates"`
	Rejected   []batchRejection `json:"rejected"`
}

// ingestSingle handles POST /api/events.
func (h *handlers) ingestSingle(w http.ResponseWriter, r *http.Request) {
	var body any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestErrorResponse{
			Error:   "Invalid event payload",
			Details: []validate.FieldError{{Field: "body", Message: "invalid JSON"}},
		})
		return
	}

	outcome, fieldErrs, err := h.state.Pipeline.IngestOne(r.Context(), body)
	if err != nil {
		internalServerError(w)
		return
	}
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, ingestErrorResponse{
			Error:   "Invalid event payload",
			Details: fieldErrs,
		})
		return
	}
	if outcome.Duplicate {
		writeJSON(w, http.StatusOK, ingestResponse{Received: 0, IDs: []int64{}, Duplicates: 1})
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{Received: 1, IDs: []int64{outcome.Event.ID}, Duplicates: 0})
}

// ingestBatch handles POST /api/events/batch.
func (h *handlers) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []any `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Events == nil {
		writeJSONError(w, http.StatusBadRequest, "Expected { events: [...] }")
		return
	}

	result, err := h.state.Pipeline.IngestBatch(r.Context(), body.Events)
	if err != nil {
		internalServerError(w)
		return
	}

	ids := result.IDs
	if ids == nil {
		ids = []int64{}
	}
	rejected := make([]batchRejection, len(result.Rejected))
	for i, rej := range result.Rejected {
		rejected[i] = batchRejection{Index: rej.Index, Errors: rej.Errors}
	}
	if rejected == nil {
		rejected = []batchRejection{}
	}

	writeJSON(w, http.StatusCreated, batchResponse{
		Received:   len(ids),
		IDs:        ids,
		Duplicates: result.Duplicates,
		Rejected:   rejected,
	})
}
