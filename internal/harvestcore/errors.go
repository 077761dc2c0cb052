package harvestcore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrHarvestFunctionNotFound = errors.New("no harvest function found")
	ErrUnbuildableTx           = errors.New("could not build harvest transaction")
	ErrMaxRetries              = errors.New("max retries hit while sending tx")
	ErrNoNativePrice           = errors.New("no price for native token")
)

// ErrorKind is the class of a transaction submission failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindReplacementConflict
	KindRejected
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindReplacementConflict:
		return "replacement-conflict"
	case KindRejected:
		return "rejected"
	case KindNetwork:
		return "network"
	}
	return "unknown"
}

// ErrorClassifier maps a SendTransaction error to a kind. Only
// KindReplacementConflict is retried.
type ErrorClassifier func(error) ErrorKind

var rejectedPhrases = []string{
	"already known",
	"nonce too low",
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"execution reverted",
	"invalid sender",
	"tx fee exceeds",
}

var networkPhrases = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"eof",
	"too many requests",
	"-32005",
	"i/o timeout",
}

// DefaultClassifier matches the messages geth-compatible nodes return.
func DefaultClassifier(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "replacement transaction") {
		return KindReplacementConflict
	}
	for _, p := range rejectedPhrases {
		if strings.Contains(msg, p) {
			return KindRejected
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	for _, p := range networkPhrases {
		if strings.Contains(msg, p) {
			return KindNetwork
		}
	}
	return KindUnknown
}

// SendError is a classified submission failure.
type SendError struct {
	Kind    ErrorKind
	Attempt int
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send attempt %d (%s): %v", e.Attempt, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
