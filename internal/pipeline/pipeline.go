// Package pipeline defines the interface for the due-diligence analysis
// pipeline that researches an investment subject and writes its outputs
// (report, chart, infographic files) to the transient outputs directory.
package pipeline

import (
	"context"
	"errors"

	"github.com/phrazzld/diligence-api/internal/domain"
)

// Common pipeline errors.
var (
	// ErrPipelineFailed indicates the analysis pipeline failed after
	// exhausting its recovery options.
	ErrPipelineFailed = errors.New("analysis pipeline failed")

	// ErrInvalidConfig indicates the pipeline configuration is invalid.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")

	// ErrTransientFailure indicates a temporary failure that persisted
	// through all retry attempts.
	ErrTransientFailure = errors.New("transient pipeline failure")

	// ErrInvalidResponse indicates the model returned a response that
	// could not be used.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrContentBlocked indicates the model refused to generate content
	// due to safety filtering.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrEmptySubject indicates the request carried no subject to research.
	ErrEmptySubject = errors.New("subject name cannot be empty")
)

// Request describes one due-diligence run.
type Request struct {
	// SubjectName is the company or asset under analysis.
	SubjectName string

	// SubjectURL optionally points at the subject's website.
	SubjectURL string

	// CorrelationID ties pipeline log lines back to the originating task.
	CorrelationID string

	// OnStage, when non-nil, is invoked as the pipeline enters each
	// named stage. Callbacks must be fast; they run on the pipeline
	// goroutine.
	OnStage func(stage string)
}

// Result carries the conversational transcript of a completed run. The
// file outputs of the run are written to the outputs directory and picked
// up separately by the artifact store.
type Result struct {
	Messages []domain.Message
}

// Pipeline runs a due-diligence analysis for a subject.
type Pipeline interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
