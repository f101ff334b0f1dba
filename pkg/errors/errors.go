// Package errors provides the typed errors of the mirror engine.
// Every engine error classifies into one Kind, which the orchestrator uses
// to decide whether a failure aborts the run or only the current unit of work.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Is, As and Join re-export the standard library helpers so callers only
// need to import this package.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Sentinel errors, one per kind plus a few transport refinements.
var (
	// ErrTransport indicates a remote call failed (network, auth, rate limit).
	ErrTransport = errors.New("transport failure")

	// ErrOwnerResolution indicates an owner could not be resolved or created.
	ErrOwnerResolution = errors.New("owner resolution failed")

	// ErrProvision indicates a mirror table could not be provisioned.
	ErrProvision = errors.New("provisioning failed")

	// ErrDataIntegrity indicates a uniqueness assumption was violated.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrConfiguration indicates required settings are missing or invalid.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput indicates a record or argument was malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates that the store's rate limit has been exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized indicates the store rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotSupported indicates the store does not implement an optional capability.
	ErrNotSupported = errors.New("not supported")
)

// Kind classifies an error for run statistics.
type Kind string

// Error kinds.
const (
	KindTransport       Kind = "transport"
	KindOwnerResolution Kind = "owner_resolution"
	KindProvision       Kind = "provision"
	KindDataIntegrity   Kind = "data_integrity"
	KindConfiguration   Kind = "configuration"
	KindValidation      Kind = "validation"
	KindTimeout         Kind = "timeout"
	KindUnknown         Kind = "unknown"
)

// String returns the string representation of a kind.
func (k Kind) String() string {
	return string(k)
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Owner resolution wraps transport and provisioning failures, so it is
// checked first.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrOwnerResolution):
		return KindOwnerResolution
	case errors.Is(err, ErrProvision):
		return KindProvision
	case errors.Is(err, ErrDataIntegrity):
		return KindDataIntegrity
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// TransportError represents a failed call to the record store.
type TransportError struct {
	Operation  string // "query", "create_record", "list_children", ...
	Target     string // collection, record or container id
	StatusCode int    // HTTP status when the store is remote, 0 otherwise
	Code       string // store-specific error code
	Message    string
	Err        error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("transport error during ")
	b.WriteString(e.Operation)
	if e.Target != "" {
		b.WriteString(" of ")
		b.WriteString(e.Target)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements errors.Unwrap
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// NewTransportError creates a new TransportError
func NewTransportError(operation, target string, err error) *TransportError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &TransportError{
		Operation: operation,
		Target:    target,
		Message:   message,
		Err:       err,
	}
}

// OwnerResolutionError reports a failure to resolve, create or provision an owner.
type OwnerResolutionError struct {
	OwnerID   string
	OwnerName string
	Step      string // "dereference", "lookup", "create", "provision"
	Err       error
}

// Error implements the error interface
func (e *OwnerResolutionError) Error() string {
	who := e.OwnerID
	if e.OwnerName != "" {
		who = fmt.Sprintf("%q (%s)", e.OwnerName, e.OwnerID)
	}
	return fmt.Sprintf("resolve owner %s: %s: %v", who, e.Step, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *OwnerResolutionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *OwnerResolutionError) Is(target error) bool {
	return target == ErrOwnerResolution
}

// NewOwnerResolutionError creates a new OwnerResolutionError
func NewOwnerResolutionError(ownerID, ownerName, step string, err error) *OwnerResolutionError {
	return &OwnerResolutionError{
		OwnerID:   ownerID,
		OwnerName: ownerName,
		Step:      step,
		Err:       err,
	}
}

// ProvisionError reports that a mirror table could not be created for a container.
type ProvisionError struct {
	ContainerID string
	Table       string
	Message     string
	Err         error
}

// Error implements the error interface
func (e *ProvisionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provision table %q in %s: %s", e.Table, e.ContainerID, msg)
}

// Unwrap implements errors.Unwrap
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ProvisionError) Is(target error) bool {
	return target == ErrProvision
}

// NewProvisionError creates a new ProvisionError
func NewProvisionError(containerID, table, message string, err error) *ProvisionError {
	return &ProvisionError{
		ContainerID: containerID,
		Table:       table,
		Message:     message,
		Err:         err,
	}
}

// DataIntegrityError reports that a natural key matched more than one record.
type DataIntegrityError struct {
	Table   string
	Key     string
	Matches int
}

// Error implements the error interface
func (e *DataIntegrityError) Error() string {
	if e.Matches > 0 {
		return fmt.Sprintf("duplicate natural key %q in table %s (%d matches)", e.Key, e.Table, e.Matches)
	}
	return fmt.Sprintf("duplicate natural key %q in table %s", e.Key, e.Table)
}

// Is implements errors.Is support
func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// NewDataIntegrityError creates a new DataIntegrityError
func NewDataIntegrityError(table, key string, matches int) *DataIntegrityError {
	return &DataIntegrityError{Table: table, Key: key, Matches: matches}
}

// ConfigurationError represents missing or invalid settings.
type ConfigurationError struct {
	Component string
	Missing   []string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Component != "" {
		b.WriteString(" in ")
		b.WriteString(e.Component)
	}
	b.WriteString(": ")
	if len(e.Missing) > 0 {
		b.WriteString("missing required settings: ")
		b.WriteString(strings.Join(e.Missing, ", "))
		if e.Message != "" {
			b.WriteString("; ")
		}
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap implements errors.Unwrap
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(component, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// TimeoutError represents a run that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  string
	Err       error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s", e.Operation, e.Duration)
	}
	return fmt.Sprintf("operation %s timed out", e.Operation)
}

// Unwrap implements errors.Unwrap
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation, duration string, err error) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration, Err: err}
}

// Helper functions for error checking

// IsTransport checks if an error is a transport error
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsConfiguration checks if an error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDataIntegrity checks if an error is a duplicate-key error
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

// IsProvision checks if an error is a provisioning error
func IsProvision(err error) bool {
	return errors.Is(err, ErrProvision)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// WrapTransport wraps err as a TransportError unless it already is one.
func WrapTransport(operation, target string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return NewTransportError(operation, target, err)
}
