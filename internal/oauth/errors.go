package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes surfaced in {error, error_description} responses.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeServerError             = "server_error"
)

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrClientExists is returned when a client id is already taken,
	// including by a deactivated client.
	ErrClientExists = errors.New("client already exists")
)

// Error is a protocol-level OAuth failure. Anything that is not an *Error is
// treated as an infrastructure failure by the HTTP layer.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithStatus returns a copy of e carrying a different HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

func ErrInvalidRequest(desc string) *Error {
	return &Error{Code: CodeInvalidRequest, Description: desc, Status: http.StatusBadRequest}
}

// ErrInvalidClient defaults to 400; the token endpoint raises it to 401.
func ErrInvalidClient(desc string) *Error {
	return &Error{Code: CodeInvalidClient, Description: desc, Status: http.StatusBadRequest}
}

func ErrInvalidGrant(desc string) *Error {
	return &Error{Code: CodeInvalidGrant, Description: desc, Status: http.StatusBadRequest}
}

func ErrUnsupportedResponseType(desc string) *Error {
	return &Error{Code: CodeUnsupportedResponseType, Description: desc, Status: http.StatusBadRequest}
}

func ErrUnsupportedGrantType(desc string) *Error {
	return &Error{Code: CodeUnsupportedGrantType, Description: desc, Status: http.StatusBadRequest}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
