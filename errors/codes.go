package errors

// ErrorCode identifies an application error category in API responses
type ErrorCode int32

const (
	ErrorCode_UNSPECIFIED ErrorCode = 0
	ErrorCode_HTTP_OK     ErrorCode = 200

	// General
	ErrorCode_INTERNAL          ErrorCode = 1000
	ErrorCode_INVALID_ARGUMENT  ErrorCode = 1001
	ErrorCode_PERMISSION_DENIED ErrorCode = 1003
	ErrorCode_UNAUTHENTICATED   ErrorCode = 1004

	// Authentication
	ErrorCode_AUTH_INVALID_TOKEN ErrorCode = 2000
	ErrorCode_AUTH_TOKEN_EXPIRED ErrorCode = 2001

	// Configuration
	ErrorCode_CONFIG_INVALID ErrorCode = 3000

	// Transformation (speech-to-text, translation)
	ErrorCode_TRANSCRIPTION_FAILED ErrorCode = 4000
	ErrorCode_TRANSLATION_FAILED   ErrorCode = 4001

	// Persistence
	ErrorCode_PERSISTENCE_FAILED ErrorCode = 5000
	ErrorCode_CACHE_FAILED       ErrorCode = 5001
	ErrorCode_STORAGE_FAILED     ErrorCode = 5002

	// Session lifecycle
	ErrorCode_SESSION_NOT_FOUND    ErrorCode = 6000
	ErrorCode_TRANSCRIPT_NOT_FOUND ErrorCode = 6001
	ErrorCode_AUDIO_NOT_FOUND      ErrorCode = 6002

	// Finalization
	ErrorCode_MERGE_FAILED ErrorCode = 7000
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCode_UNSPECIFIED:          "UNSPECIFIED",
	ErrorCode_HTTP_OK:              "HTTP_OK",
	ErrorCode_INTERNAL:             "INTERNAL",
	ErrorCode_INVALID_ARGUMENT:     "INVALID_ARGUMENT",
	ErrorCode_PERMISSION_DENIED:    "PERMISSION_DENIED",
	ErrorCode_UNAUTHENTICATED:      "UNAUTHENTICATED",
	ErrorCode_AUTH_INVALID_TOKEN:   "AUTH_INVALID_TOKEN",
	ErrorCode_AUTH_TOKEN_EXPIRED:   "AUTH_TOKEN_EXPIRED",
	ErrorCode_CONFIG_INVALID:       "CONFIG_INVALID",
	ErrorCode_TRANSCRIPTION_FAILED: "TRANSCRIPTION_FAILED",
	ErrorCode_TRANSLATION_FAILED:   "TRANSLATION_FAILED",
	ErrorCode_PERSISTENCE_FAILED:   "PERSISTENCE_FAILED",
	ErrorCode_CACHE_FAILED:         "CACHE_FAILED",
	ErrorCode_STORAGE_FAILED:       "STORAGE_FAILED",
	ErrorCode_SESSION_NOT_FOUND:    "SESSION_NOT_FOUND",
	ErrorCode_TRANSCRIPT_NOT_FOUND: "TRANSCRIPT_NOT_FOUND",
	ErrorCode_AUDIO_NOT_FOUND:      "AUDIO_NOT_FOUND",
	ErrorCode_MERGE_FAILED:         "MERGE_FAILED",
}

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText renders the code by name in JSON bodies
func (c ErrorCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
