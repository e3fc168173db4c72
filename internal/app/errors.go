package app

import (
	"errors"
	"fmt"
	"net/http"

	"noteforge/api/internal/auth"
	"noteforge/api/internal/cloudsync"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/store"
)

var (
	ErrConfirmationRequired = errors.New("delete requires confirmation")
	ErrNoActiveDocument     = errors.New("no active document")
	ErrSyncInProgress       = errors.New("sync already in progress")
	ErrSyncUnavailable      = errors.New("cloud sync is not configured")
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, ErrConfirmationRequired):
		return http.StatusConflict, "CONFIRMATION_REQUIRED", "Delete must be confirmed", nil
	case errors.Is(err, ErrNoActiveDocument):
		return http.StatusConflict, "NO_ACTIVE_DOCUMENT", "No document is open", nil
	case errors.Is(err, ErrSyncInProgress):
		return http.StatusConflict, "SYNC_IN_PROGRESS", "A sync is already running", nil
	case errors.Is(err, ErrSyncUnavailable):
		return http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "Cloud sync is not configured", nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, history.ErrRevisionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrInvalidSettings):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, cloudsync.ErrMissingClientID):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Dropbox app key is required", nil
	case errors.Is(err, cloudsync.ErrInvalidCallback), errors.Is(err, auth.ErrInvalidState), errors.Is(err, auth.ErrExpiredState):
		return http.StatusBadRequest, "INVALID_CALLBACK", "Authorization callback rejected", nil
	case errors.Is(err, cloudsync.ErrNotAuthenticated):
		return http.StatusUnauthorized, "NOT_AUTHENTICATED", "Cloud storage not connected", nil
	case errors.Is(err, cloudsync.ErrSyncFailed):
		return http.StatusBadGateway, "SYNC_FAILED", "Sync failed", nil
	case errors.Is(err, store.ErrPersistence):
		return http.StatusInternalServerError, "PERSISTENCE_FAILED", "Could not write to storage", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
