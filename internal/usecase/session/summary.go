package session

import (
	"time"

	"github.com/google/uuid"
)

// Step names reported in a Summary
const (
	StepPersistence     = "persistence"
	StepTranscriptMerge = "transcript_merge"
	StepAudioMerge      = "audio_merge"
	StepSessionEnd      = "session_end"
)

// StepStatus is the outcome of one finalization step
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepWarning StepStatus = "warning"
	StepError   StepStatus = "error"
)

// Overall session outcomes
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Step reports one finalization sub-operation
type Step struct {
	Name    string     `json:"name"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// Summary is returned to the caller when a session closes
type Summary struct {
	SessionID  uuid.UUID `json:"session_id"`
	Status     string    `json:"status"`
	Cached     bool      `json:"cached"`
	CreatedAt  time.Time `json:"created_at"`
	ChunkCount int       `json:"chunk_count"`
	Steps      []Step    `json:"steps"`
}

// ChunkMessage is the live result sent to the client for each chunk
type ChunkMessage struct {
	ChunkIndex     int    `json:"chunk_index"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
}

func (s *Summary) add(name string, status StepStatus, message string) {
	s.Steps = append(s.Steps, Step{Name: name, Status: status, Message: message})
}

// Step returns the named step, if reported
func (s *Summary) Step(name string) (Step, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	return Step{}, false
}

// resolve derives the overall status: failed when the session could not be
// ended, partial when any other step errored, completed otherwise
func (s *Summary) resolve() {
	s.Status = StatusCompleted
	for _, st := range s.Steps {
		if st.Status != StepError {
			continue
		}
		if st.Name == StepSessionEnd {
			s.Status = StatusFailed
			return
		}
		s.Status = StatusPartial
	}
}
