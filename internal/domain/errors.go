package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates invalid parameters or missing credentials.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvider indicates the embedding provider call failed.
	ErrProvider = errors.New("embedding provider error")

	// ErrStore indicates a vector store call failed.
	ErrStore = errors.New("vector store error")

	// ErrStoreUnavailable indicates the collection is missing or unreachable.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrEmptyContent indicates there is nothing to ingest.
	ErrEmptyContent = errors.New("empty content")

	// ErrDocumentNotFound indicates no points exist for a document id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnsupportedFileType indicates no extractor exists for a file type.
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ErrConfiguration.Error()
	}
	if e.Value != "" {
		return fmt.Sprintf("invalid %s=%q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ProviderError wraps a failed embedding call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ErrProvider.Error()
	}
	msg := fmt.Sprintf("%s embeddings failed", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// StoreErrorCode classifies vector store failures.
type StoreErrorCode string

const (
	StoreErrorValidation        StoreErrorCode = "validation_failed"
	StoreErrorEncodeFailed      StoreErrorCode = "encode_failed"
	StoreErrorDecodeFailed      StoreErrorCode = "decode_failed"
	StoreErrorTransportFailed   StoreErrorCode = "transport_failed"
	StoreErrorTimeout           StoreErrorCode = "timeout"
	StoreErrorQueryFailed       StoreErrorCode = "query_failed"
	StoreErrorCollectionMissing StoreErrorCode = "collection_missing"
)

// StoreError carries the backend's diagnostic for a failed store operation.
type StoreError struct {
	Op         string
	Code       StoreErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ErrStore.Error()
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d): %s: %v",
			e.Op, e.Code, e.StatusCode, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d): %s",
			e.Op, e.Code, e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d): %v",
			e.Op, e.Code, e.StatusCode, e.Cause)
	default:
		return fmt.Sprintf("vector store operation failed (op=%s code=%s status=%d)",
			e.Op, e.Code, e.StatusCode)
	}
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *StoreError) Is(target error) bool {
	if target == ErrStore {
		return true
	}
	return target == ErrStoreUnavailable && e != nil && e.Code == StoreErrorCollectionMissing
}

// NewStoreError builds a StoreError without an HTTP status.
func NewStoreError(op string, code StoreErrorCode, msg string, cause error) error {
	return &StoreError{Op: op, Code: code, Message: msg, Cause: cause}
}
