// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is shared by the outbound platform clients.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}
