package service

import (
	"fmt"
	"net/http"
)

// DomainError is the error type returned across the service boundary. Status is the HTTP status
// the transport should answer with.
type DomainError struct {
	Code    string
	Status  int
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches on Code so wrapped copies compare equal to the package sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

func (e *DomainError) wrap(err error) *DomainError {
	cp := *e
	cp.Err = err
	return &cp
}

func (e *DomainError) withMessage(msg string) *DomainError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrInvalidCredentials           = &DomainError{Code: "INVALID_CREDENTIALS", Status: http.StatusUnauthorized, Message: "Invalid email or password"}
	ErrAccountLocked                = &DomainError{Code: "ACCOUNT_LOCKED", Status: http.StatusForbidden, Message: "Account is locked"}
	ErrInvalidPortalSession         = &DomainError{Code: "INVALID_PORTAL_SESSION", Status: http.StatusUnauthorized, Message: "Invalid portal session"}
	ErrInvalidOrExpiredCode         = &DomainError{Code: "INVALID_OR_EXPIRED_CODE", Status: http.StatusBadRequest, Message: "Invalid or expired code"}
	ErrUnauthorizedClient           = &DomainError{Code: "UNAUTHORIZED_CLIENT", Status: http.StatusUnauthorized, Message: "Unauthorized Client"}
	ErrForbidden                    = &DomainError{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "User does not have access to this application"}
	ErrNoRefreshToken               = &DomainError{Code: "NO_REFRESH_TOKEN", Status: http.StatusUnauthorized, Message: "No refresh token"}
	ErrInvalidOrExpiredRefreshToken = &DomainError{Code: "INVALID_OR_EXPIRED_REFRESH_TOKEN", Status: http.StatusUnauthorized, Message: "Invalid or expired refresh token"}
	ErrStoreFailure                 = &DomainError{Code: "STORE_FAILURE", Status: http.StatusInternalServerError, Message: "Internal server error"}
	ErrFederatedUserNotFound        = &DomainError{Code: "FEDERATED_USER_NOT_FOUND", Status: http.StatusNotFound, Message: "No account is registered for this identity"}
	ErrUserNotFound                 = &DomainError{Code: "USER_NOT_FOUND", Status: http.StatusNotFound, Message: "User not found"}
	ErrInvalidPassword              = &DomainError{Code: "INVALID_PASSWORD", Status: http.StatusBadRequest, Message: "Current password is incorrect"}
	ErrPasswordReused               = &DomainError{Code: "PASSWORD_REUSED", Status: http.StatusBadRequest, Message: "New password must differ from the current password"}
	ErrEmailTaken                   = &DomainError{Code: "EMAIL_TAKEN", Status: http.StatusConflict, Message: "Email is already in use"}
	ErrValidation                   = &DomainError{Code: "VALIDATION_ERROR", Status: http.StatusBadRequest, Message: "Invalid request"}
)

func storeFailure(err error) error { return ErrStoreFailure.wrap(err) }

// ValidationFailed reports rejected request input. fields maps each offending field to its message.
func ValidationFailed(msg string, fields map[string]string) error {
	de := ErrValidation.withMessage(msg)
	if len(fields) > 0 {
		de.Details = fields
	}
	return de
}
