package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/portalsso/sso-server/internal/service"
	"github.com/portalsso/sso-server/internal/validator"
)

var errMalformedBody = &service.DomainError{Code: service.ErrValidation.Code, Status: http.StatusBadRequest, Message: "malformed JSON body"}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errMalformedBody
	}
	return nil
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return validateRequest(dst)
}

// validateRequest runs the struct's validate tags and reports failures as service.ErrValidation
// with per-field details.
func validateRequest(v any) error {
	err := validator.Validate(v)
	if err == nil {
		return nil
	}
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		return service.ValidationFailed(ve.Error(), ve.Fields())
	}
	return service.ValidationFailed(err.Error(), nil)
}
