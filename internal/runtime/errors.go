package runtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/szaher/designs/listingmock/internal/artifact"
	"github.com/szaher/designs/listingmock/internal/auth"
	"github.com/szaher/designs/listingmock/internal/rules"
	"github.com/szaher/designs/listingmock/internal/session"
)

var (
	// ErrMalformedPayload means a request body or form field could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrMissingUpload means a required file field was absent.
	ErrMissingUpload = errors.New("missing upload")

	// ErrTooManyFiles means a request carried more files than allowed.
	ErrTooManyFiles = errors.New("too many files")

	// ErrStorageFault means an upload could not be persisted.
	ErrStorageFault = errors.New("storage fault")
)

// Error codes carried in the "code" field of error bodies.
const (
	codeMissingCredentials = "missing_credentials"
	codeMalformedPayload   = "malformed_payload"
	codeMissingUpload      = "missing_upload"
	codeUploadTooLarge     = "upload_too_large"
	codeIllegalTransition  = "illegal_transition"
	codeStorageFault       = "storage_fault"
	codeInternal           = "internal_error"
	codeNotFound           = "not_found"
)

// classify maps an error to its status, code and client-facing message.
func classify(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return http.StatusBadRequest, codeMissingCredentials, "Missing credentials"
	case errors.Is(err, rules.ErrRuleFailed), errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest, codeMalformedPayload, err.Error()
	case errors.Is(err, ErrMissingUpload):
		return http.StatusBadRequest, codeMissingUpload, err.Error()
	case errors.Is(err, artifact.ErrTooLarge), errors.Is(err, ErrTooManyFiles), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, codeUploadTooLarge, err.Error()
	case errors.Is(err, session.ErrIllegalTransition):
		return http.StatusConflict, codeIllegalTransition, err.Error()
	case errors.Is(err, ErrStorageFault):
		return http.StatusInternalServerError, codeStorageFault, "Failed to save files"
	default:
		return http.StatusInternalServerError, codeInternal, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
