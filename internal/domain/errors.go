package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ErrorKind classifies a failed cycle for logs and metrics.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTransient ErrorKind = "transient" // network, timeout, 5xx
	KindContract  ErrorKind = "contract"  // unexpected shape, missing field, 4xx
	KindInvariant ErrorKind = "invariant" // misaligned series, zero base price
	KindPartial   ErrorKind = "partial"   // one catalog key failed
	KindUnknown   ErrorKind = "unknown"
)

// UpstreamError is a failed call to an external data source.
type UpstreamError struct {
	Source   string // e.g. "cryptocompare"
	Op       string // e.g. "pricemultifull"
	Status   int    // HTTP status, 0 for transport errors
	Contract bool   // response arrived but violated the expected shape
	Err      error
}

func (e *UpstreamError) Error() string {
	return e.Source + " " + e.Op + ": " + e.Err.Error()
}

// IsRetriable is always true: no local recovery exists, so the next cycle
// simply tries again.
func (e *UpstreamError) IsRetriable() bool {
	return true
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps a transport or server-side failure.
func NewTransientError(source, op string, status int, err error) *UpstreamError {
	return &UpstreamError{Source: source, Op: op, Status: status, Err: err}
}

// NewContractError wraps a response that did not match the expected contract.
func NewContractError(source, op string, status int, err error) *UpstreamError {
	return &UpstreamError{Source: source, Op: op, Status: status, Contract: true, Err: err}
}

// InvariantError is an internal consistency violation detected while
// deriving data. It is fatal for the current cycle only.
type InvariantError struct {
	Op  string
	Err error
}

func (e *InvariantError) Error() string {
	return "invariant violated [" + e.Op + "]: " + e.Err.Error()
}

// IsRetriable is false: the cycle is abandoned and the next scheduled tick
// starts a fresh one.
func (e *InvariantError) IsRetriable() bool {
	return false
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// PartialError reports a batch where some keys failed and the rest were
// applied.
type PartialError struct {
	Failed int
	Total  int
	Err    error
}

func (e *PartialError) Error() string {
	return "partial batch failure: " + e.Err.Error()
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ie *InvariantError
	if errors.As(err, &ie) {
		return KindInvariant
	}
	var pe *PartialError
	if errors.As(err, &pe) {
		return KindPartial
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		if ue.Contract {
			return KindContract
		}
		return KindTransient
	}
	return KindUnknown
}

var (
	// ErrTimestampMismatch is returned when two series that should be aligned are not.
	ErrTimestampMismatch = errors.New("timestamp mismatch")

	// ErrDegenerateMarket is returned when a base price is zero.
	ErrDegenerateMarket = errors.New("degenerate market: zero base price")

	// ErrNotReady is returned when a cache has not completed its first refresh.
	ErrNotReady = errors.New("data not yet available")

	// ErrUnknownPair is returned for a pair outside the supported currency sets.
	ErrUnknownPair = errors.New("unsupported currency pair")

	// ErrInvalidParam is returned for malformed query parameters.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNotFound is returned when a key is not present in a cache.
	ErrNotFound = errors.New("not found")
)
