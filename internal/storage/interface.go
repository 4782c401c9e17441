package storage

import (
	"context"
)

// Backend defines the interface for token store persistence implementations.
// Token documents are schemaless maps; the token package owns the codec.
type Backend interface {
	// Initialize sets up the storage backend
	Initialize(ctx context.Context) error

	// Close closes the storage backend
	Close() error

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Token record operations
	GetToken(ctx context.Context, id string) (map[string]interface{}, error)
	SetToken(ctx context.Context, id string, doc map[string]interface{}) error
	DeleteToken(ctx context.Context, id string) error
	// ListTokens returns every stored token document keyed by ID. The guard's
	// validate path scans all records for a digest match, so backends should
	// return the full set in one round trip.
	ListTokens(ctx context.Context) (map[string]map[string]interface{}, error)

	// Storage metrics and monitoring
	GetStorageStats(ctx context.Context) (StorageStats, error)
}

// ErrNotFound is returned when a key is not found
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// ErrNotSupported is returned when an operation is not supported
type ErrNotSupported struct {
	Operation string
}

func (e *ErrNotSupported) Error() string {
	return "operation not supported: " + e.Operation
}

// StorageStats provides storage backend statistics
type StorageStats struct {
	Backend    string `json:"backend"`
	Healthy    bool   `json:"healthy"`
	TokenCount int    `json:"token_count"`
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
