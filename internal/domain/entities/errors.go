package entities

import "errors"

// Domain errors
var (
	// Session errors
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyClosed = errors.New("session already closed")

	// Transcript errors
	ErrTranscriptNotFound = errors.New("transcript not found")
	ErrTranscriptExists   = errors.New("transcript already exists")

	// Audio errors
	ErrBlobNotFound     = errors.New("blob not found")
	ErrNoAudioChunks    = errors.New("no audio chunks found")
	ErrMixedChunkNaming = errors.New("audio chunk names mix numeric and non-numeric indices")
)
