package server

import (
	"encoding/json"
	"net/http"

	apierror "github.com/mini-idp/mini-idp/apierror"
)

type wireError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeError translates err into an {error, error_description} JSON body: a
// known *apierror.Error reports its own code and status; anything else is
// logged and reported as a generic 500, never leaking internal detail to
// the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apierror.As(err); ok {
		s.writeJSON(w, ae.Status(), wireError{Error: ae.Code, ErrorDescription: ae.Description})
		return
	}

	s.log.Errorf("internal error handling %s %s: %v", r.Method, r.URL.Path, err)
	s.writeJSON(w, http.StatusInternalServerError, wireError{Error: "server_error", ErrorDescription: "an internal error occurred"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Errorf("encoding json response: %v", err)
	}
}
