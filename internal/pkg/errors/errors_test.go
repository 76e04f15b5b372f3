package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"invalid input", fmt.Errorf("%w: visibility must be public", ErrInvalidInput), http.StatusBadRequest, ErrCodeInvalidInput, "invalid input: visibility must be public"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized"},
		{"forbidden", fmt.Errorf("only owners: %w", ErrForbidden), http.StatusForbidden, ErrCodeForbidden, "only owners: forbidden"},
		{"not found", fmt.Errorf("access key %w", ErrNotFound), http.StatusNotFound, ErrCodeNotFound, "access key not found"},
		{"conflict", ErrConflict, http.StatusConflict, ErrCodeConflict, "conflict"},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError, ErrCodeInternal, "Failed to do thing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteServiceError(rr, tt.err, "Failed to do thing")

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", body.Error, tt.wantMsg)
			}
		})
	}
}
