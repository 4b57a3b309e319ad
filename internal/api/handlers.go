package api

import (
	"encoding/json"
	"net/http"

	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind onto an HTTP status.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := werrors.KindOf(err)
	switch kind {
	case werrors.KindValidation, werrors.KindUnsupported:
		status = http.StatusBadRequest
	case werrors.KindAuth:
		status = http.StatusUnauthorized
	case werrors.KindStore, werrors.KindChain, werrors.KindTransport:
		status = http.StatusBadGateway
	case werrors.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	a.logger.Warn().Err(err).
		Str("path", r.URL.Path).
		Str("request_id", RequestID(r.Context())).
		Int("status", status).
		Msg("request failed")
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: string(kind)})
}

func (a *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) HandleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := a.backend.ListConnections(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (a *API) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URI == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := a.backend.Connect(r.Context(), req.URI)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ConnectResponse{ConnectionID: id})
}

func (a *API) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	started, err := a.backend.Refresh(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := RefreshResponse{Started: started}
	if !started {
		resp.Message = "refresh ran recently, try again shortly"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) HandleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := a.backend.Sweep(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
