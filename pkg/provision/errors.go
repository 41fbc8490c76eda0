package provision

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the provisioning API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: provisioning API returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: provisioning API returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the provisioning API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
