package transport

import (
	"encoding/json"
	"net/http"
	"strings"
)

// callEnvelope is the wire frame for every tool-surface call (spec
// §4.8/§6): {"op": "...", "args": {...}}, answered with either the
// operation's result object or {"error": "..."}.
type callEnvelope struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

func (rt *router) handleCall(w http.ResponseWriter, r *http.Request) {
	var env callEnvelope
	if err := decodeJSON(r, &env); err != nil {
		jsonError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if strings.TrimSpace(env.Op) == "" {
		jsonError(w, http.StatusBadRequest, "op is required")
		return
	}

	result, err := rt.svc.Dispatch(r.Context(), env.Op, env.Args)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}
