package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/markme/internal/bookmarks"
	"github.com/MarcoPoloResearchLab/markme/internal/search"
	"github.com/MarcoPoloResearchLab/markme/internal/serviceerrors"
	"github.com/MarcoPoloResearchLab/markme/internal/tags"
	"github.com/MarcoPoloResearchLab/markme/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	errorKindInvalidRequest = "invalid_request"
	errorKindValidation     = "validation_failed"
	errorKindNotFound       = "not_found"
	errorKindConflict       = "conflict"
	errorKindTooLarge       = "payload_too_large"
	errorKindInternal       = "internal_error"
)

// writeBindingError reports a request that failed gin binding.
func writeBindingError(c *gin.Context, err error) {
	body := gin.H{"error": errorKindInvalidRequest}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string, len(validationErrors))
		for _, fieldError := range validationErrors {
			fields[fieldError.Field()] = fieldError.Tag()
		}
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

// writeError maps domain errors to HTTP responses.
func (h *httpHandler) writeError(c *gin.Context, action string, err error) {
	c.JSON(h.errorResponse(action, err))
}

// errorResponse builds the status and body for err. Unexpected failures are logged and
// reported with their service code.
func (h *httpHandler) errorResponse(action string, err error) (int, gin.H) {
	var validationErr *bookmarks.ValidationError
	var profileErr *users.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, gin.H{
			"error":  errorKindValidation,
			"fields": map[string]string{validationErr.Field: validationErr.Err.Error()},
		}
	case errors.As(err, &profileErr):
		return http.StatusBadRequest, gin.H{
			"error":  errorKindValidation,
			"fields": map[string]string{profileErr.Field: profileErr.Err.Error()},
		}
	case errors.Is(err, tags.ErrInvalidTag):
		return http.StatusBadRequest, gin.H{
			"error":  errorKindValidation,
			"fields": map[string]string{"tags": err.Error()},
		}
	case errors.Is(err, search.ErrInvalidMode):
		return http.StatusBadRequest, gin.H{
			"error":  errorKindValidation,
			"fields": map[string]string{"mode": err.Error()},
		}
	case errors.Is(err, bookmarks.ErrBookmarkNotFound), errors.Is(err, users.ErrUnknownOwner):
		return http.StatusNotFound, gin.H{"error": errorKindNotFound}
	case errors.Is(err, bookmarks.ErrBookmarkConflict):
		return http.StatusConflict, gin.H{"error": errorKindConflict}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, gin.H{"error": errorKindTooLarge}
	default:
		fields := []zap.Field{zap.String("action", action), zap.Error(err)}
		body := gin.H{"error": errorKindInternal}
		if code, ok := serviceerrors.CodeOf(err); ok {
			fields = append(fields, zap.String("code", code))
			body["code"] = code
		}
		h.logger.Error("request failed", fields...)
		return http.StatusInternalServerError, body
	}
}

var registerFieldNames sync.Once

// useRequestFieldNames makes binding errors report json and form names instead of Go
// field names.
func useRequestFieldNames() {
	registerFieldNames.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(func(field reflect.StructField) string {
			for _, key := range []string{"json", "form"} {
				name, _, _ := strings.Cut(field.Tag.Get(key), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return field.Name
		})
	})
}
