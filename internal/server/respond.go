package server

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

type errorBody struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("http: encode response", zap.Error(err))
	}
}

// writeError renders err as {"error": {...}}. Unclassified errors are
// logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		zap.L().Error("http: unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		e = apperr.New(apperr.KindInternal, "internal error")
	}
	writeJSON(w, e.HTTPStatus(), map[string]errorBody{
		"error": {Type: string(e.Kind), Message: e.Message, Missing: e.Missing},
	})
}

// readBody reads a bounded request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, err, "request body too large or unreadable")
	}
	return b, nil
}

// decodeJSON reads a bounded body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	b, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, err, "invalid JSON body")
	}
	return nil
}
