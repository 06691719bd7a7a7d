// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type ProviderID string
type RequestID string
type ResponseID string

func NewProviderID() ProviderID {
	return ProviderID(uuid.New().String())
}

func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// NewResponseID mints a fresh attempt id. A rerun against the same provider
// gets a new id even though the provider id is reused.
func NewResponseID() ResponseID {
	return ResponseID(uuid.New().String())
}
