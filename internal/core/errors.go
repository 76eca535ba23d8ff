// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"fmt"
)

// Severity classifies a validation finding. BLOCK rejects the offending row
// (and may fail the batch), WARN records an issue without rejection, INFO is
// advisory only.
type Severity string

const (
	SeverityBlock Severity = "BLOCK"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// ErrorType identifies the broad class of a batch-fatal error. The
// orchestrator records it in the run-metadata store, and the observer uses it
// to classify runs for alerting.
type ErrorType string

const (
	ErrTypeInput       ErrorType = "input"
	ErrTypeSource      ErrorType = "source"
	ErrTypeTransport   ErrorType = "transport"
	ErrTypeParse       ErrorType = "parse"
	ErrTypeValidation  ErrorType = "validation"
	ErrTypeReferential ErrorType = "referential"
	ErrTypeResolver    ErrorType = "resolver"
	ErrTypeInternal    ErrorType = "internal"
)

// SourceError is fatal to the batch: HTTP 4xx, unreadable archive, missing
// expected archive member. Never retried.
type SourceError struct {
	URL    string
	Reason string
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source error for %s: %s", e.URL, e.Reason)
}

// TransportError covers network faults, timeouts and HTTP 5xx. These are the
// only errors that the Land stage retries.
type TransportError struct {
	URL        string
	StatusCode int // 0 if the request never got a response
	Inner      error
}

func (e TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error for %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport error for %s: %s", e.URL, e.Inner.Error())
}

func (e TransportError) Unwrap() error { return e.Inner }

// EncodingError is raised when the encoding cascade cannot produce a usable
// decoding of the input (in practice only for irrecoverably broken BOMs,
// since Latin-1 cannot fail).
type EncodingError struct {
	Filename string
	Reason   string
}

func (e EncodingError) Error() string {
	return fmt.Sprintf("encoding error in %s: %s", e.Filename, e.Reason)
}

// LayoutMismatchError is raised when a fixed-width row does not fit the
// LayoutSpec that the layout registry selected for this vintage.
type LayoutMismatchError struct {
	LayoutVersion string
	LineNumber    int
	LineLength    int
	WantMinLength int
}

func (e LayoutMismatchError) Error() string {
	return fmt.Sprintf("layout %s mismatch at line %d: line has %d chars, layout needs at least %d",
		e.LayoutVersion, e.LineNumber, e.LineLength, e.WantMinLength)
}

// MaxReportedDuplicateKeys bounds the evidence carried by DuplicateKeyError.
const MaxReportedDuplicateKeys = 10

// DuplicateKeyError is raised when natural-key uniqueness is violated at
// BLOCK severity. It carries up to MaxReportedDuplicateKeys offending key
// tuples as structured evidence.
type DuplicateKeyError struct {
	SchemaID string
	Keys     [][]string
}

func (e DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate natural keys in %s: %d distinct key tuples: %v",
		e.SchemaID, len(e.Keys), e.Keys)
}

// CategoryValidationError is raised when a categorical column contains a
// value outside the schema's domain at BLOCK severity.
type CategoryValidationError struct {
	SchemaID string
	Column   string
	Values   []string // offending values, deduplicated, bounded
}

func (e CategoryValidationError) Error() string {
	return fmt.Sprintf("invalid values for categorical column %s in %s: %v", e.Column, e.SchemaID, e.Values)
}

// RangeOverlapError is raised when two ZIP9 override ranges overlap within
// the same vintage (BLOCK).
type RangeOverlapError struct {
	SchemaID string
	Ranges   [][2]string // pairs of overlapping [low, high] bounds
}

func (e RangeOverlapError) Error() string {
	return fmt.Sprintf("overlapping ZIP9 ranges in %s: %v", e.SchemaID, e.Ranges)
}

// SchemaRegressionError is raised when the live table layout has drifted from
// the registered schema contract.
type SchemaRegressionError struct {
	SchemaID       string
	MissingColumns []string
	ExtraColumns   []string
}

func (e SchemaRegressionError) Error() string {
	return fmt.Sprintf("schema drift in %s: missing %v, unexpected %v", e.SchemaID, e.MissingColumns, e.ExtraColumns)
}

// ResolverErrorCode enumerates the error kinds of the nearest-ZIP resolver
// contract.
type ResolverErrorCode string

const (
	ResolveInvalidZip          ResolverErrorCode = "INVALID_ZIP"
	ResolveNoState             ResolverErrorCode = "NO_STATE"
	ResolveNoZCTA              ResolverErrorCode = "NO_ZCTA"
	ResolveNoCoords            ResolverErrorCode = "NO_COORDS"
	ResolveNoCandidatesInState ResolverErrorCode = "NO_CANDIDATES_IN_STATE"
)

// ResolverError is returned by the nearest-ZIP resolver. The code is part of
// the consumer contract; the message is free-form.
type ResolverError struct {
	Code    ResolverErrorCode
	Message string
}

func (e ResolverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// InternalError marks an unexpected invariant violation (e.g. the join
// invariant of a ParseResult failing). It must never be swallowed.
type InternalError struct {
	Reason string
}

func (e InternalError) Error() string {
	return "internal error: " + e.Reason
}

// ClassifyError maps an error to its ErrorType for run-metadata recording.
func ClassifyError(err error) ErrorType {
	var (
		srcErr       SourceError
		transportErr TransportError
		encErr       EncodingError
		layoutErr    LayoutMismatchError
		dupErr       DuplicateKeyError
		overlapErr   RangeOverlapError
		catErr       CategoryValidationError
		driftErr     SchemaRegressionError
		resolveErr   ResolverError
		internalErr  InternalError
	)
	switch {
	case errors.As(err, &srcErr):
		return ErrTypeSource
	case errors.As(err, &transportErr):
		return ErrTypeTransport
	case errors.As(err, &encErr), errors.As(err, &layoutErr),
		errors.As(err, &dupErr), errors.As(err, &overlapErr),
		errors.As(err, &catErr), errors.As(err, &driftErr):
		return ErrTypeParse
	case errors.As(err, &resolveErr):
		return ErrTypeResolver
	case errors.As(err, &internalErr):
		return ErrTypeInternal
	default:
		return ErrTypeInternal
	}
}
