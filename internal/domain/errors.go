package domain

import (
	"errors"
	"fmt"
)

// Failure reasons. Typed failures below wrap exactly one of these, so callers
// can branch with errors.Is(err, domain.ErrNotFound) and friends.
var (
	ErrNotFound                        = errors.New("no strategy produced a title")
	ErrAllSourcesExhausted             = errors.New("all sources exhausted")
	ErrFileMissingAfterReportedSuccess = errors.New("file missing after reported success")
	ErrPaymentRequired                 = errors.New("payment required")
	ErrInvalidTarget                   = errors.New("invalid target")
	ErrInvalidCount                    = errors.New("invalid count")
)

// ResolutionFailure is returned by the metadata resolver when every strategy
// was skipped or failed.
type ResolutionFailure struct{ Reason error }

func (e *ResolutionFailure) Error() string { return fmt.Sprintf("resolution failed: %v", e.Reason) }
func (e *ResolutionFailure) Unwrap() error { return e.Reason }

// DownloadFailure is returned by the download engine when no source produced
// a file at the expected path.
type DownloadFailure struct{ Reason error }

func (e *DownloadFailure) Error() string { return fmt.Sprintf("download failed: %v", e.Reason) }
func (e *DownloadFailure) Unwrap() error { return e.Reason }

// EntitlementFailure is returned when a request cannot be admitted for free.
type EntitlementFailure struct{ Reason error }

func (e *EntitlementFailure) Error() string { return fmt.Sprintf("entitlement: %v", e.Reason) }
func (e *EntitlementFailure) Unwrap() error { return e.Reason }

// AdminFailure is returned for malformed admin commands.
type AdminFailure struct{ Reason error }

func (e *AdminFailure) Error() string { return fmt.Sprintf("admin: %v", e.Reason) }
func (e *AdminFailure) Unwrap() error { return e.Reason }
