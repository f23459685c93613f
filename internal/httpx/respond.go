package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/autoshop-checkout/internal/reconcile"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func statusForKind(k reconcile.Kind) int {
	switch k {
	case reconcile.KindNotFound:
		return http.StatusNotFound
	case reconcile.KindValidation:
		return http.StatusBadRequest
	case reconcile.KindUnauthorized:
		return http.StatusUnauthorized
	case reconcile.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a reconcile error. Causes stay in the log;
// only the caller-facing message is returned.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	var rerr *reconcile.Error
	if !errors.As(err, &rerr) {
		logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	code := statusForKind(rerr.Kind)
	if code >= http.StatusInternalServerError {
		logger.Error("operation failed", zap.String("op", op), zap.String("kind", rerr.Kind.String()), zap.Error(err))
	}
	writeJSON(w, code, map[string]any{"error": rerr.Message})
}
