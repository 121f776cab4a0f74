package volume

import "errors"

// Error kinds shared by all stages. Stages wrap one of these with fmt.Errorf
// and %w so callers can classify a failure with errors.Is.
var (
	// ErrInput marks unreadable, corrupt or geometrically invalid volumes.
	ErrInput = errors.New("input error")

	// ErrConfiguration marks invalid parameters such as an unknown
	// threshold algorithm or a negative structuring-element radius.
	ErrConfiguration = errors.New("configuration error")

	// ErrComputation marks a stage that cannot proceed on its intermediate
	// state, for example an empty binary volume reaching component filtering.
	ErrComputation = errors.New("computation error")

	// ErrResource marks volumes too large for the configured limits.
	ErrResource = errors.New("resource error")
)
