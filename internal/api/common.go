package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"ingestd/internal/apperr"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindClient, apperr.KindServer:
		return http.StatusBadGateway
	case apperr.KindTransient:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status by kind. Unclassified errors are logged and reported without
// their text.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("api request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: string(apperr.KindUnexpected), Message: "internal error"})
		return
	}
	status := statusFor(e.Kind)
	if status >= 500 {
		logger.Error("api request failed", "status", status, "kind", e.Kind, "error", err)
	}
	writeJSON(w, status, errorBody{Code: string(e.Kind), Message: e.Message})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: string(apperr.KindValidation), Message: msg})
}
