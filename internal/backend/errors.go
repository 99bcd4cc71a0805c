package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a failed exchange with the backend.
type Kind int

const (
	// KindTransport means the server could not be reached or the response could not be read.
	KindTransport Kind = iota
	// KindAuth means the request was refused for an authentication or anti-forgery reason.
	KindAuth
	// KindValidation means the server rejected the submitted data.
	KindValidation
	// KindRejected is any other non-2xx answer.
	KindRejected
	// KindNotModified means the resource was already in the requested state.
	KindNotModified
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindRejected:
		return "rejected"
	case KindNotModified:
		return "not_modified"
	default:
		return "unknown"
	}
}

const (
	genericMessage   = "Something went wrong. Please try again."
	transportMessage = "Could not reach the server. Check your connection and try again."
	refusedMessage   = "The server refused the request."
)

// APIError is returned for every failed request made through Client.
type APIError struct {
	Kind    Kind
	Status  int
	Message string
	Fields  map[string][]string
	Err     error
}

func (e *APIError) Error() string {
	if e.Kind == KindTransport {
		return fmt.Sprintf("backend unreachable: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("backend %s error: status %d: %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s error: status %d", e.Kind, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// UserMessage turns an error from this layer into text fit for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var notice interface{ UserMessage() string }
	if errors.As(err, &notice) {
		return notice.UserMessage()
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return genericMessage
	}

	switch apiErr.Kind {
	case KindTransport:
		return transportMessage
	case KindValidation:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return refusedMessage
	default:
		if apiErr.Message != "" {
			return refusedMessage + " " + apiErr.Message
		}
		return refusedMessage
	}
}

func classify(status int, body []byte) *APIError {
	message, fields := ParseErrorBody(body)
	apiErr := &APIError{Status: status, Message: message, Fields: fields}

	switch {
	case status == http.StatusNotModified:
		apiErr.Kind = KindNotModified
	case status == http.StatusUnauthorized:
		apiErr.Kind = KindAuth
	case status == http.StatusForbidden:
		// Django reports anti-forgery failures as 403 with a "CSRF Failed" detail.
		// An empty body gets the benefit of the doubt and is also treated as a token problem.
		if message == "" || strings.Contains(strings.ToLower(message), "csrf") {
			apiErr.Kind = KindAuth
		} else {
			apiErr.Kind = KindRejected
		}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		apiErr.Kind = KindValidation
	default:
		apiErr.Kind = KindRejected
	}
	return apiErr
}

// ParseErrorBody extracts a readable message from `{"detail": "..."}` or
// DRF-style `{"field": ["msg", ...]}` bodies.
func ParseErrorBody(body []byte) (string, map[string][]string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil
	}

	if detail, ok := raw["detail"]; ok {
		var s string
		if json.Unmarshal(detail, &s) == nil && s != "" {
			return s, nil
		}
	}

	fields := make(map[string][]string)
	for key, value := range raw {
		var list []string
		if json.Unmarshal(value, &list) == nil && len(list) > 0 {
			fields[key] = list
			continue
		}
		var single string
		if json.Unmarshal(value, &single) == nil && single != "" {
			fields[key] = []string{single}
		}
	}
	if len(fields) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		msgs := strings.Join(fields[key], "; ")
		if key == "non_field_errors" {
			parts = append(parts, msgs)
			continue
		}
		parts = append(parts, key+": "+msgs)
	}
	return strings.Join(parts, " "), fields
}
