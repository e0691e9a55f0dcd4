package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("call not found")
	ErrAlreadyExists        = errors.New("call already exists")
	ErrAgentNotFound        = errors.New("agent not found")
	ErrCapabilityDisabled   = errors.New("capability disabled")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrDoubleCompletion     = errors.New("turn already completed")
	ErrQueueFull            = errors.New("chunk queue full")

	ErrSpeechService     = errors.New("speech service error")
	ErrGenerationService = errors.New("generation service error")
	ErrSynthesisService  = errors.New("synthesis service error")
)

// ErrorKind classifies a failure for the conversation_error notification
type ErrorKind string

const (
	KindSpeechService     ErrorKind = "SpeechServiceError"
	KindGenerationService ErrorKind = "GenerationServiceError"
	KindSynthesisService  ErrorKind = "SynthesisServiceError"
	KindInternal          ErrorKind = "InternalError"
)

// Stage names a pipeline stage
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageDispatch   Stage = "dispatch"
)

// StageKind maps a stage to the error kind its failures carry
func StageKind(stage Stage) ErrorKind {
	switch stage {
	case StageTranscribe:
		return KindSpeechService
	case StageGenerate:
		return KindGenerationService
	case StageSynthesize:
		return KindSynthesisService
	default:
		return KindInternal
	}
}

// StageError is an adapter failure. Timeouts and vendor errors share it.
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Timeout bool
	Err     error
}

// NewStageError wraps err for the given stage
func NewStageError(stage Stage, err error, timeout bool) *StageError {
	return &StageError{Stage: stage, Kind: StageKind(stage), Timeout: timeout, Err: err}
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: %s timed out: %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can use errors.Is(err, ErrSynthesisService)
func (e *StageError) Is(target error) bool {
	switch target {
	case ErrSpeechService:
		return e.Kind == KindSpeechService
	case ErrGenerationService:
		return e.Kind == KindGenerationService
	case ErrSynthesisService:
		return e.Kind == KindSynthesisService
	}
	return false
}

// KindOf classifies any error produced while processing a chunk
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
