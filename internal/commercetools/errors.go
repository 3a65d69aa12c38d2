package commercetools

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"commercetools-storefront/internal/domain"
	"golang.org/x/oauth2"
)

// ErrorObject is one entry of the platform's error list.
type ErrorObject struct {
	Code                 string `json:"code"`
	Message              string `json:"message"`
	DetailedErrorMessage string `json:"detailedErrorMessage,omitempty"`
	Field                string `json:"field,omitempty"`
	DuplicateValue       any    `json:"duplicateValue,omitempty"`
}

// StructuredError is a platform error response that carried a message or an
// error list.
type StructuredError struct {
	StatusCode int           `json:"statusCode"`
	Message    string        `json:"message"`
	Errors     []ErrorObject `json:"errors"`
}

func (e *StructuredError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 && e.Errors[0].Message != "" {
		return e.Errors[0].Message
	}
	return fmt.Sprintf("commercetools: status %d", e.StatusCode)
}

func (e *StructuredError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound || e.hasCode("ResourceNotFound")
	case domain.ErrConcurrentModification:
		return e.StatusCode == http.StatusConflict || e.hasCode("ConcurrentModification")
	case domain.ErrAlreadyExists:
		return e.hasCode("DuplicateField")
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized ||
			e.hasCode("invalid_token") ||
			e.hasCode("invalid_customer_account_credentials") ||
			e.hasCode("InvalidCredentials")
	}
	return false
}

func (e *StructuredError) hasCode(code string) bool {
	for _, obj := range e.Errors {
		if obj.Code == code {
			return true
		}
	}
	return false
}

// GenericError is any failed response whose body did not match the platform
// error shape.
type GenericError struct {
	StatusCode int
	Body       string
}

func (e *GenericError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("commercetools: status %d", e.StatusCode)
	}
	return fmt.Sprintf("commercetools: status %d: %s", e.StatusCode, body)
}

func (e *GenericError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case domain.ErrConcurrentModification:
		return e.StatusCode == http.StatusConflict
	case domain.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// parseAPIError turns a failed response body into StructuredError, falling
// back to GenericError when the shape does not match.
func parseAPIError(status int, body []byte) error {
	var payload struct {
		StatusCode       int           `json:"statusCode"`
		Message          string        `json:"message"`
		Errors           []ErrorObject `json:"errors"`
		Error            string        `json:"error"`
		ErrorDescription string        `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return &GenericError{StatusCode: status, Body: string(body)}
	}

	out := &StructuredError{StatusCode: status, Message: payload.Message, Errors: payload.Errors}
	if out.Message == "" {
		out.Message = payload.ErrorDescription
	}
	if len(out.Errors) == 0 && payload.Error != "" {
		out.Errors = []ErrorObject{{Code: payload.Error, Message: payload.ErrorDescription}}
	}
	if out.Message == "" && len(out.Errors) == 0 {
		return &GenericError{StatusCode: status, Body: string(body)}
	}
	return out
}

// asPlatformError unwraps token endpoint failures into the same tagged types
// as REST failures.
func asPlatformError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) && retrieve.Response != nil {
		return parseAPIError(retrieve.Response.StatusCode, retrieve.Body)
	}
	return err
}

// NormalizeErrors flattens a StructuredError into field errors a form can map
// onto inputs. Other errors yield nil.
func NormalizeErrors(err error) []domain.FieldError {
	var se *StructuredError
	if !errors.As(err, &se) {
		return nil
	}
	out := make([]domain.FieldError, 0, len(se.Errors))
	for _, obj := range se.Errors {
		if obj.DetailedErrorMessage != "" {
			parts := strings.Split(obj.DetailedErrorMessage, ":")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			fe := domain.FieldError{DetailedErrorMessage: obj.DetailedErrorMessage}
			if len(parts) > 0 {
				fe.Code = parts[0]
			}
			if len(parts) > 1 {
				fe.Error = parts[1]
			}
			if len(parts) > 2 {
				fe.Message = strings.Join(parts[2:], ":")
			}
			out = append(out, fe)
			continue
		}
		errText := obj.Message
		if obj.DuplicateValue != nil {
			if s := fmt.Sprint(obj.DuplicateValue); s != "" {
				errText = s
			}
		}
		out = append(out, domain.FieldError{
			DetailedErrorMessage: obj.Message,
			Code:                 obj.Code,
			Error:                errText,
			Message:              obj.Message,
		})
	}
	return out
}

// Message returns a displayable message for err, never empty.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "Unknown error"
}
