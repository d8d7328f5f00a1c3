package server

import (
	"encoding/json"
	"net/http"

	apierror "github.com/mini-idp/mini-idp/apierror"
	"github.com/mini-idp/mini-idp/gate"
	"github.com/mini-idp/mini-idp/snapshot"
)

// handleRecovery backs GET/POST /rpc/recovery: a full-state export/import of
// every durable entity store, gated behind idp.root/idp.admin since it
// bypasses per-kind scoping entirely.
func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	action := gate.ActionRead
	if r.Method == http.MethodPost {
		action = gate.ActionWrite
	}

	if _, err := s.gate.Authorize(r.Header.Get("Authorization"), "recovery", action); err != nil {
		s.writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := s.snapshots.Export(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)

	case http.MethodPost:
		var snap snapshot.AppSnapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			s.writeError(w, r, apierror.New(apierror.InvalidRequest, "malformed json body"))
			return
		}
		if err := s.snapshots.Import(r.Context(), &snap); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
