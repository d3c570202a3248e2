package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies a failure for callers and for HTTP mapping.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindProductNotFound Kind = "PRODUCT_NOT_FOUND"
	KindTransport       Kind = "TRANSPORT"
	KindRejected        Kind = "REJECTED"
	KindConfig          Kind = "CONFIG"
	KindConflict        Kind = "CONFLICT"
	KindNotFound        Kind = "NOT_FOUND"
	KindUnauthorized    Kind = "UNAUTHORIZED"
	KindForbidden       Kind = "FORBIDDEN"
	KindInternal        Kind = "INTERNAL"
)

// Error is an application error carrying the HTTP status it maps to.
type Error struct {
	Code    int    `json:"-"`
	Kind    Kind   `json:"kind"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error.
func New(code int, kind Kind, message string, err error) *Error {
	return &Error{Code: code, Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, KindValidation, message, nil)
}

func ProductNotFound(productID string) *Error {
	return New(http.StatusBadRequest, KindProductNotFound, fmt.Sprintf("Product %s not found", productID), nil)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, KindNotFound, message, nil)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, KindForbidden, message, nil)
}

func Unauthorized() *Error {
	return New(http.StatusUnauthorized, KindUnauthorized, "Unauthorized", nil)
}

// Conflict reports an illegal state change, naming both states.
func Conflict(field, current, attempted string) *Error {
	return New(http.StatusConflict, KindConflict,
		fmt.Sprintf("cannot change %s from %s to %s", field, current, attempted), nil)
}

func Internal(message string, err error) *Error {
	return New(http.StatusInternalServerError, KindInternal, message, err)
}

// As returns err as *Error when it is one.
func As(err error) (*Error, bool) {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// ErrorMiddleware renders the last error attached with c.Error. Errors that
// are not *Error, and INTERNAL ones, become a generic 500 so internals never
// leak to clients.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr, ok := As(c.Errors.Last().Err)
		if !ok || appErr.Kind == KindInternal {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(appErr.Code, gin.H{"error": appErr.Message, "kind": appErr.Kind})
	}
}
