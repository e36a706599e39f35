package apierr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// -------------- Error model & mapping --------------

type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeAlreadyReturned   Code = "ALREADY_RETURNED"
	CodeConflict          Code = "CONFLICT" // 一意制約・貸出中の削除など
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeStorageFailure    Code = "STORAGE_FAILURE"
	CodeInternal          Code = "INTERNAL"
)

// APIError: Message はクライアントにそのまま返す。Err は返さずログにだけ出す
type APIError struct {
	Code    Code
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func ErrInvalid(msg string) *APIError           { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError          { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrInsufficientStock(msg string) *APIError { return &APIError{Code: CodeInsufficientStock, Message: msg} }
func ErrAlreadyReturned(msg string) *APIError   { return &APIError{Code: CodeAlreadyReturned, Message: msg} }
func ErrConflict(msg string) *APIError          { return &APIError{Code: CodeConflict, Message: msg} }
func ErrUnauthenticated(msg string) *APIError   { return &APIError{Code: CodeUnauthenticated, Message: msg} }
func ErrForbidden(msg string) *APIError         { return &APIError{Code: CodeForbidden, Message: msg} }
func ErrRateLimited(msg string) *APIError       { return &APIError{Code: CodeRateLimited, Message: msg} }
func ErrInternal(msg string) *APIError          { return &APIError{Code: CodeInternal, Message: msg} }

// Storage: ドライバのエラーを包む。原因はレスポンスには出さない
func Storage(err error) *APIError {
	return &APIError{Code: CodeStorageFailure, Message: "storage failure", Err: err}
}

// AsStorage: APIError はそのまま、それ以外は StorageFailure に包む
func AsStorage(err error) error {
	if err == nil {
		return nil
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return err
	}
	return Storage(err)
}

func CodeOf(err error) Code {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if err == nil {
		return ""
	}
	return CodeInternal
}

func Is(err error, code Code) bool { return err != nil && CodeOf(err) == code }

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument, CodeInsufficientStock, CodeAlreadyReturned:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ---------- response body ----------

type ErrorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func Body(code Code, msg string) ErrorDTO {
	var e ErrorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func FromErr(err error) ErrorDTO {
	var ae *APIError
	if errors.As(err, &ae) {
		return Body(ae.Code, ae.Message)
	}
	// 想定外のエラーは中身を出さない
	return Body(CodeInternal, "internal error")
}

// Write: status と body を書く。5xx は原因込みでログに残す
func Write(c *gin.Context, err error) {
	status := ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, FromErr(err))
}
