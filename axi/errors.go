package axi

import "fmt"

// ErrorKind classifies a protocol or internal invariant violation.
type ErrorKind int

// Kinds of fatal errors. Backpressure is never reported as an error.
const (
	KindDuplicateID ErrorKind = iota + 1
	KindNoSuchID
	KindOverflow
	KindPrematureLast
	KindUnknownChannel
	KindUnmatchedAddressBeat
	KindUnmatchedResponse
	KindAddressOutOfRange
	KindMalformedTransaction
)

var kindNames = map[ErrorKind]string{
	KindDuplicateID:          "DUPLICATE_ID",
	KindNoSuchID:             "NO_SUCH_ID",
	KindOverflow:             "OVERFLOW",
	KindPrematureLast:        "PREMATURE_LAST",
	KindUnknownChannel:       "UNKNOWN_CHANNEL",
	KindUnmatchedAddressBeat: "UNMATCHED_ADDRESS_BEAT",
	KindUnmatchedResponse:    "UNMATCHED_RESPONSE",
	KindAddressOutOfRange:    "ADDRESS_OUT_OF_RANGE",
	KindMalformedTransaction: "MALFORMED_TRANSACTION",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// A ProtocolError reports a violation that stops the simulation.
type ProtocolError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}

	return e.Kind.String() + ": " + e.Detail
}

// Is matches any ProtocolError of the same kind, so that
// errors.Is(err, axi.ErrOverflow) works regardless of the detail.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Errorf creates a ProtocolError of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &ProtocolError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrDuplicateID          = &ProtocolError{Kind: KindDuplicateID}
	ErrNoSuchID             = &ProtocolError{Kind: KindNoSuchID}
	ErrOverflow             = &ProtocolError{Kind: KindOverflow}
	ErrPrematureLast        = &ProtocolError{Kind: KindPrematureLast}
	ErrUnknownChannel       = &ProtocolError{Kind: KindUnknownChannel}
	ErrUnmatchedAddressBeat = &ProtocolError{Kind: KindUnmatchedAddressBeat}
	ErrUnmatchedResponse    = &ProtocolError{Kind: KindUnmatchedResponse}
	ErrAddressOutOfRange    = &ProtocolError{Kind: KindAddressOutOfRange}
	ErrMalformedTransaction = &ProtocolError{Kind: KindMalformedTransaction}
)
