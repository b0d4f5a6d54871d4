package types

import "errors"

// Error classes shared by the pipeline components. Wrap them with
// fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDeviceUnavailable  = errors.New("device unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
)
