package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorMissingCredential     = "MISSING_CREDENTIAL"
	ErrorTokenValidationFailed = "TOKEN_VALIDATION_FAILED"
	ErrorTemplateMarkerMissing = "TEMPLATE_MARKER_MISSING"
	ErrorTemplateUnavailable   = "TEMPLATE_UNAVAILABLE"
	ErrorNetworkFailure        = "NETWORK_FAILURE"
	ErrorCallbackProtocol      = "CALLBACK_PROTOCOL"
	ErrorPersistenceFailure    = "PERSISTENCE_FAILURE"
	ErrorUnmappedAccount       = "UNMAPPED_ACCOUNT"
	ErrorBadInput              = "REFRESH_BAD_INPUT"
	ErrorInternal              = "REFRESH_INTERNAL_ERROR"
)

// NewError builds a categorized error carrying one of the text codes above.
func NewError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(statusForCategory(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(source error, category goerrors.Category, message string, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(statusForCategory(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func MissingCredentialError(source error, path string, reason string) error {
	return WrapError(source, goerrors.CategoryBadInput, "enrollment: "+reason, ErrorMissingCredential, map[string]any{
		"path": path,
	})
}

func TemplateError(marker string) error {
	return NewError("template: insertion marker not found", goerrors.CategoryValidation, ErrorTemplateMarkerMissing, map[string]any{
		"marker": marker,
	})
}

func TemplateReadError(source error, path string) error {
	return WrapError(source, goerrors.CategoryNotFound, "template: page template unreadable", ErrorTemplateUnavailable, map[string]any{
		"path": path,
	})
}

func NetworkError(source error, message string, metadata map[string]any) error {
	return WrapError(source, goerrors.CategoryExternal, message, ErrorNetworkFailure, metadata)
}

func CallbackProtocolError(source error, message string) error {
	return WrapError(source, goerrors.CategoryBadInput, message, ErrorCallbackProtocol, nil)
}

func PersistenceError(source error, path string) error {
	return WrapError(source, goerrors.CategoryInternal, "persistence: write failed", ErrorPersistenceFailure, map[string]any{
		"path": path,
	})
}

func ValidationError(enrollmentID string) error {
	return NewError("token: rejected by accounts probe", goerrors.CategoryAuth, ErrorTokenValidationFailed, map[string]any{
		"enrollment_id": enrollmentID,
	})
}

func UnmappedAccountError(accountName string, accountID string) error {
	return NewError("feeds: account name has no feed mapping", goerrors.CategoryNotFound, ErrorUnmappedAccount, map[string]any{
		"account_name": accountName,
		"account_id":   accountID,
	})
}

// IsErrorCode reports whether err, or any error it wraps, carries textCode.
func IsErrorCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for current := richErr; current != nil; {
		if strings.EqualFold(current.TextCode, textCode) {
			return true
		}
		var next *goerrors.Error
		inner := errors.Unwrap(current)
		if inner == nil || !goerrors.As(inner, &next) {
			return false
		}
		current = next
	}
	return false
}

// ErrorTextCode returns the text code of the outermost rich error in err's
// chain, or "" when there is none.
func ErrorTextCode(err error) string {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return ""
	}
	return richErr.TextCode
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
