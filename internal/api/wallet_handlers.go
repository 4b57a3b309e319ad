package api

import "net/http"

func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.backend.Status(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
