package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/oops"

	"github.com/hongminglow/tours-be/internal/auth"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return oops.Code(auth.CodeBadRequest).Errorf("Request body must not be empty")
		case errors.As(err, &tooLarge):
			return oops.Code(auth.CodeBadRequest).Errorf("Request body is too large")
		default:
			return oops.Code(auth.CodeBadRequest).Errorf("Invalid JSON payload")
		}
	}
	if dec.More() {
		return oops.Code(auth.CodeBadRequest).Errorf("Request body must contain a single JSON object")
	}
	return nil
}
