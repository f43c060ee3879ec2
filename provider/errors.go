package provider

import "errors"

// Fatal discovery errors. Providers wrap them with the offending page url
// and the underlying cause, use errors.Is to check the kind.
var (
	// ErrConnection is returned when the API could not be reached (DNS, TLS, refused connection)
	ErrConnection = errors.New("unable to connect")
	// ErrUnauthorized is returned when the API responded with 401
	ErrUnauthorized = errors.New("API call received unauthorized")
	// ErrUnexpectedStatus is returned for any other non 200 response
	ErrUnexpectedStatus = errors.New("API call received invalid status")
	// ErrMalformedPage is returned when a page body can't be decoded into projects
	ErrMalformedPage = errors.New("unable to parse response as JSON")
	// ErrInvalidNextPage is returned when the pagination header is present but not valid
	ErrInvalidNextPage = errors.New("invalid next page header")
	// ErrPageLimit is returned when the server keeps announcing more pages
	// beyond the configured maximum
	ErrPageLimit = errors.New("page limit exceeded")
)
