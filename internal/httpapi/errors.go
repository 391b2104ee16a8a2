package httpapi

import (
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"geoattend/internal/attendance"
	"geoattend/internal/geo"
	"geoattend/internal/location"
	"geoattend/internal/session"
	"geoattend/internal/verdict"
)

var errForbidden = errors.New("forbidden")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, attendance.ErrClassNotFound),
		errors.Is(err, attendance.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, verdict.ErrSessionNotActive),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, verdict.ErrInvalidInput),
		errors.Is(err, verdict.ErrProxyUnreachable),
		errors.Is(err, geo.ErrInvalidPoint),
		errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, attendance.ErrInvalidClass),
		errors.Is(err, location.ErrIncompleteReport):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": ...}. Validation failures list the
// offending fields; server errors hide their cause.
func writeError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
		return
	}

	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(code, gin.H{"error": http.StatusText(code)})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

// badRequest reports a body that could not be decoded at all.
func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		writeError(c, err)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// jsonFieldName makes validation errors report fields by their JSON name.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "latitude":
		return "must be a latitude in [-90, 90]"
	case "longitude":
		return "must be a longitude in [-180, 180]"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt", "gte":
		return "must be " + fe.Tag() + " " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	}
	return "is invalid"
}
