// Package validation provides request validation for the riskscope API.
package validation

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxEntityIDLength matches the entity_id column width.
const MaxEntityIDLength = 128

// entityIDRegex allows slugs, tickers and prefixed ids such as "ent_01H...".
var entityIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEntityID reports whether id is a well-formed entity identifier.
func IsValidEntityID(id string) bool {
	return entityIDRegex.MatchString(id)
}

// SanitizeString trims whitespace, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidEntityID checks a single entity identifier. Empty values pass; pair
// with Required.
func ValidEntityID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidEntityID(value) {
			return &ValidationError{Field: field, Message: "must be 1-128 characters of letters, digits, '.', '_', ':' or '-'"}
		}
		return nil
	}
}

// ValidEntityIDs checks every id in a list and reports the first bad index.
func ValidEntityIDs(field string, ids []string) func() *ValidationError {
	return func() *ValidationError {
		for i, id := range ids {
			if !IsValidEntityID(id) {
				return &ValidationError{Field: field + "[" + strconv.Itoa(i) + "]", Message: "is not a valid entity id"}
			}
		}
		return nil
	}
}

// MaxItems checks that a list does not exceed max entries.
func MaxItems(field string, n, max int) func() *ValidationError {
	return func() *ValidationError {
		if n > max {
			return &ValidationError{Field: field, Message: "exceeds maximum of " + strconv.Itoa(max) + " items"}
		}
		return nil
	}
}

// EntityParamMiddleware rejects malformed :id URL parameters before the
// handler runs. Routes without the parameter pass through.
func EntityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidEntityID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_entity_id",
				"message": "entity id must be 1-128 characters of letters, digits, '.', '_', ':' or '-'",
			})
			return
		}
		c.Next()
	}
}
