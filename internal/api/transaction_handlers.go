package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Maphikza/sheet-wallet/internal/schema"
)

func (a *API) HandleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := a.backend.ListRequests(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("status") == "pending" {
		pending := reqs[:0]
		for _, req := range reqs {
			if req.Disposition() == schema.ReqPending {
				pending = append(pending, req)
			}
		}
		reqs = pending
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (a *API) HandleApprove(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, true)
}

func (a *API) HandleReject(w http.ResponseWriter, r *http.Request) {
	a.resolve(w, r, false)
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request, approve bool) {
	id := mux.Vars(r)["id"]
	if err := a.backend.ResolveRequest(r.Context(), id, approve); err != nil {
		a.writeError(w, r, err)
		return
	}

	status := schema.ReqRejected
	if approve {
		status = schema.ReqApproved
	}
	writeJSON(w, http.StatusAccepted, ResolveResponse{RequestID: id, Status: string(status)})
}
