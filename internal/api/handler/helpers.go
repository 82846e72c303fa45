package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/api/response"
	"github.com/edvin/relayfleet/internal/balancer"
	"github.com/edvin/relayfleet/internal/nodesync"
)

// writeServiceError maps a service error to a status code. Unexpected
// errors are logged with the request logger and answered with msg.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, nodesync.ErrNodeNotFound):
		response.WriteError(w, http.StatusNotFound, "node not found")
	case errors.Is(err, balancer.ErrPoolNotFound):
		response.WriteError(w, http.StatusNotFound, "pool not found")
	case errors.Is(err, nodesync.ErrInvalidIP):
		response.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg(msg)
		response.WriteError(w, http.StatusInternalServerError, msg)
	}
}

func etag(token string) string {
	return `"` + token + `"`
}

// presentedToken reads the change token an agent echoes back, from the
// token query parameter or If-None-Match.
func presentedToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	v := strings.TrimSpace(r.Header.Get("If-None-Match"))
	if v == "" || v == "*" {
		return ""
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}
