package api

import "net/http"

// filterOptions handles GET /api/filter-options.
func (h *handlers) filterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := h.state.Store.GetFilterOptions(r.Context())
	if err != nil {
		internalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}
