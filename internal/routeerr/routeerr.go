// Package routeerr defines the failure kinds reported by the planning core.
// Every failure carries the stage that produced it and the identifier of the
// offending input so a failed run can be diagnosed without re-running it.
package routeerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a planning failure.
type Kind string

// Failure kinds. A Kind is itself an error so callers can match with errors.Is.
const (
	InvalidGeometry   Kind = "invalid_geometry"
	EmptyGraph        Kind = "empty_graph"
	DisconnectedInput Kind = "disconnected_input"
	InvalidEndpoints  Kind = "invalid_endpoints"
	InvalidConstraint Kind = "invalid_constraint"
	NoPathFound       Kind = "no_path_found"
	EmptyRoute        Kind = "empty_route"
	AcquisitionError  Kind = "acquisition_error"
)

func (k Kind) Error() string { return string(k) }

// Stage names the pipeline step that failed.
type Stage string

// Pipeline stages.
const (
	StageIndexBuild  Stage = "index_build"
	StageGraphBuild  Stage = "graph_build"
	StagePlanning    Stage = "planning"
	StageExport      Stage = "export"
	StageAcquisition Stage = "acquisition"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Stage   Stage
	Subject string // zone id, node id or coordinate that triggered the failure
	Err     error  // optional cause
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Subject != "" {
		msg += fmt.Sprintf(" (%s)", e.Subject)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind so errors.Is(err, routeerr.NoPathFound) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns a classified error for kind at stage.
func New(kind Kind, stage Stage, subject string) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: subject}
}

// Newf returns a classified error whose cause is a formatted message.
func Newf(kind Kind, stage Stage, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Subject: subject, Err: eris.Errorf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, stage Stage, subject string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Subject: subject, Err: err}
}

// Acquisition marks a map provider failure. Errors that are already
// classified pass through unchanged.
func Acquisition(err error, subject string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Kind: AcquisitionError, Stage: StageAcquisition, Subject: subject, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty Kind when err is not classified.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// StageOf returns the stage of the first classified error in err's chain.
func StageOf(err error) Stage {
	var re *Error
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}
