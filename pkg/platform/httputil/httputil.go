// Package httputil holds the JSON helpers shared by all HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	dErrors "protokoll/pkg/domain-errors"
)

// maxBodyBytes caps request bodies before decoding.
const maxBodyBytes = 1 << 20

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded error into its HTTP response. Internal
// failures never leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": strings.ToLower(string(code))}

	var de *dErrors.Error
	if code != dErrors.CodeInternal && errors.As(err, &de) {
		body["error_description"] = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), body)
}

// Decode reads a JSON body into T. An empty body decodes to the zero value
// so parameterless commands need no payload.
func Decode[T any](r *http.Request) (T, error) {
	var v T
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(&v)
	if err == nil || errors.Is(err, io.EOF) {
		return v, nil
	}
	return v, dErrors.New(dErrors.CodeBadRequest, "malformed request body")
}
