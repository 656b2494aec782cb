// Package validation provides input validation helpers and middleware for the risk API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// digitsRegex matches strings of decimal digits only
	digitsRegex = regexp.MustCompile(`^[0-9]+$`)
	// ipv4Regex is a loose IPv4 shape check; net.ParseIP does the real work
	ipv4Regex = regexp.MustCompile(`^[0-9]{1,3}(\.[0-9]{1,3}){3}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidCPF checks a Brazilian CPF: 11 digits, not all identical,
// and both mod-11 check digits correct.
func IsValidCPF(cpf string) bool {
	if len(cpf) != 11 || !digitsRegex.MatchString(cpf) {
		return false
	}

	allSame := true
	for i := 1; i < 11; i++ {
		if cpf[i] != cpf[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false
	}

	return checkDigit(cpf, 9) && checkDigit(cpf, 10)
}

// checkDigit verifies the CPF check digit at position pos (9 or 10).
func checkDigit(cpf string, pos int) bool {
	sum := 0
	for i := 0; i < pos; i++ {
		sum += int(cpf[i]-'0') * (pos + 1 - i)
	}
	rem := (sum * 10) % 11
	if rem == 10 {
		rem = 0
	}
	return rem == int(cpf[pos]-'0')
}

// IsValidBIN checks a card BIN/IIN (first 6 digits of the PAN).
func IsValidBIN(bin string) bool {
	return len(bin) == 6 && digitsRegex.MatchString(bin)
}

// IsValidIPv4 checks the rough shape of an IPv4 address.
func IsValidIPv4(ip string) bool {
	return ipv4Regex.MatchString(ip)
}

// MaskCPF returns a CPF safe for logs and API responses: 111.***.***-11.
// Malformed input is masked entirely.
func MaskCPF(cpf string) string {
	if len(cpf) != 11 {
		return "***"
	}
	return cpf[:3] + ".***.***-" + cpf[9:]
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
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

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
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

// ValidCPF checks if a field holds a valid CPF. Empty values pass;
// combine with Required for mandatory fields.
func ValidCPF(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCPF(value) {
			return &ValidationError{Field: field, Message: "must be a valid CPF (11 digits)"}
		}
		return nil
	}
}

// ValidBIN checks if a field holds a valid card BIN. Empty values pass.
func ValidBIN(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidBIN(value) {
			return &ValidationError{Field: field, Message: "must be the first 6 digits of the card"}
		}
		return nil
	}
}

// OneOf checks that a field's value is one of the allowed values.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// PositiveAmount checks that an amount is greater than zero.
func PositiveAmount(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value <= 0 {
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
