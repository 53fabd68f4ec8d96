package rapi

import "errors"

// ResultCode is the outcome classification of a RAPI operation
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultNK
	ResultInvalidResponse
	ResultFeatureNotSupported
	ResultFailure
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultNK:
		return "NK"
	case ResultInvalidResponse:
		return "INVALID_RESPONSE"
	case ResultFeatureNotSupported:
		return "FEATURE_NOT_SUPPORTED"
	default:
		return "FAILURE"
	}
}

var (
	// ErrNK is returned when the controller rejects a command
	ErrNK = errors.New("rapi: controller replied NK")

	// ErrInvalidResponse is returned when an OK reply is too short or a field does not parse
	ErrInvalidResponse = errors.New("rapi: invalid response")

	// ErrFeatureNotSupported is returned when the controller reports a feature as unavailable
	ErrFeatureNotSupported = errors.New("rapi: feature not supported")

	// ErrNotBound is returned when an operation is invoked before Connect
	ErrNotBound = errors.New("rapi: no command channel bound")

	// ErrInvalidVersion is returned when a version string is not major.minor.patch
	ErrInvalidVersion = errors.New("rapi: invalid version string")
)

// CodeOf maps an error returned by the client to a ResultCode. Channel
// failures and unknown errors map to ResultFailure.
func CodeOf(err error) ResultCode {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNK):
		return ResultNK
	case errors.Is(err, ErrInvalidResponse), errors.Is(err, ErrInvalidVersion):
		return ResultInvalidResponse
	case errors.Is(err, ErrFeatureNotSupported):
		return ResultFeatureNotSupported
	default:
		return ResultFailure
	}
}
