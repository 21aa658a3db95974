package audit

import "errors"

// Configuration errors are returned to the caller that supplied the config.
var (
	ErrInvalidConfig          = errors.New("audit: invalid configuration")
	ErrDuplicateAudit         = errors.New("audit: duplicate audit name")
	ErrDuplicateReportRequest = errors.New("audit: reports already started")
)

// Routing errors are returned from DispatchMsg; the caller logs and moves on.
var (
	ErrMissingAudit   = errors.New("audit: message has no audit name")
	ErrAuditNotFound  = errors.New("audit: audit not found")
	ErrInvalidPayload = errors.New("audit: unexpected message payload")
)

// Precondition violations.
var (
	// ErrUnsupportedLink is returned for a vulnerability linked to data
	// other than resources.
	ErrUnsupportedLink = errors.New("audit: vulnerability links to non-resource data")
	// ErrUnexpectedACK is returned for an ACK that no delivery accounts for.
	ErrUnexpectedACK = errors.New("audit: unexpected ACK")
)
