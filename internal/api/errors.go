package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"wellness/internal/auth"
	"wellness/internal/terms"
)

// 错误码定义
const (
	// 通用错误码
	ErrCodeInvalidRequest     = "ERR_INVALID_REQUEST"
	ErrCodeInvalidInput       = "ERR_INVALID_INPUT"
	ErrCodeForbidden          = "ERR_FORBIDDEN"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeConflict           = "ERR_CONFLICT"
	ErrCodeRateLimited        = "ERR_RATE_LIMITED"
	ErrCodeInternalError      = "ERR_INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"

	// 认证错误码
	ErrCodeMissingCredentials = "ERR_MISSING_CREDENTIALS"
	ErrCodeInvalidCredentials = "ERR_INVALID_CREDENTIALS"
	ErrCodeInactiveAccount    = "ERR_INACTIVE_ACCOUNT"

	// 业务逻辑错误码
	ErrCodeMissingField       = "ERR_MISSING_FIELD"
	ErrCodeRoleTableImmutable = "ERR_ROLE_TABLE_IMMUTABLE"
)

// APIError 统一的 API 错误响应结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse 返回统一格式的错误响应
func ErrorResponse(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
	})
}

// ErrorResponseWithDetails 返回带详情的错误响应
func ErrorResponseWithDetails(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, APIError{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// BadRequest 400 错误请求
func BadRequest(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusBadRequest, code, message)
}

// Forbidden 403 禁止访问
func Forbidden(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound 404 资源不存在
func NotFound(c *gin.Context, code string, message string) {
	ErrorResponse(c, http.StatusNotFound, code, message)
}

// InternalError 500 服务器内部错误
func InternalError(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable 503 服务不可用
func ServiceUnavailable(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// MissingField 缺少必填字段
func MissingField(c *gin.Context, field string) {
	ErrorResponseWithDetails(c, http.StatusBadRequest, ErrCodeMissingField, field+" is required", gin.H{"field": field})
}

// InvalidPayload 无效的请求体
func InvalidPayload(c *gin.Context) {
	ErrorResponse(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request payload")
}

// errorStatus maps a domain error onto its HTTP status, code and client message.
// Unknown errors become a fixed 500 so internals never leak.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		return http.StatusUnauthorized, ErrCodeMissingCredentials, "authentication required"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials"
	case errors.Is(err, auth.ErrInactiveAccount):
		return http.StatusUnauthorized, ErrCodeInactiveAccount, "account is inactive"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden, "insufficient permissions"
	case errors.Is(err, auth.ErrRoleTableImmutable):
		return http.StatusConflict, ErrCodeRoleTableImmutable, auth.ErrRoleTableImmutable.Error()
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, ErrCodeConflict, auth.ErrConflict.Error()
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "resource not found"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeInvalidInput, err.Error()
	case errors.Is(err, terms.ErrGateUnavailable):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "terms gate temporarily unavailable"
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "internal server error"
	}
}

// writeError renders err and aborts the request.
func writeError(c *gin.Context, err error) {
	status, code, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}

	switch status {
	case http.StatusForbidden:
		Forbidden(c, message)
	case http.StatusNotFound:
		NotFound(c, code, message)
	case http.StatusInternalServerError:
		InternalError(c, message)
	case http.StatusServiceUnavailable:
		ServiceUnavailable(c, message)
	default:
		ErrorResponse(c, status, code, message)
	}
	c.Abort()
}

// bindFailed 处理请求绑定失败：缺少必填字段时返回字段名，其余为通用 400
func bindFailed(c *gin.Context, err error, message string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				MissingField(c, fe.Field())
				c.Abort()
				return
			}
		}
	}
	BadRequest(c, ErrCodeInvalidRequest, message)
	c.Abort()
}

var fieldNamesOnce sync.Once

// useWireFieldNames makes validation errors report json/form field names
// instead of Go struct field names.
func useWireFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}
