package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "protokoll/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "store unreachable"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal" {
			t.Fatalf("expected error code internal, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("policy violation includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodePolicyViolation, "reduction exceeds cap"))

		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "policy_violation" {
			t.Fatalf("expected error code policy_violation, got %q", body["error"])
		}
		if body["error_description"] != "reduction exceeds cap" {
			t.Fatalf("expected the policy message, got %q", body["error_description"])
		}
	})

	t.Run("insolvency maps to payment required", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInsolvent, "debt ceiling reached"))

		if w.Code != http.StatusPaymentRequired {
			t.Fatalf("expected status %d, got %d", http.StatusPaymentRequired, w.Code)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("empty body decodes to the zero value", func(t *testing.T) {
		type payload struct {
			Minutes int `json:"minutes"`
		}
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		v, err := Decode[payload](r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Minutes != 0 {
			t.Fatalf("expected zero value, got %+v", v)
		}
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		_, err := Decode[map[string]any](r)
		if !dErrors.HasCode(err, dErrors.CodeBadRequest) {
			t.Fatalf("expected bad request, got %v", err)
		}
	})
}
