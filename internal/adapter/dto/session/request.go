package session

// StreamRequest holds the query parameters of a live audio socket
type StreamRequest struct {
	ClientID       string `param:"client_id" validate:"required,max=128"`
	SourceLanguage string `query:"source" validate:"required,langcode"`
	TargetLanguage string `query:"target" validate:"required,langcode"`
}

// ListRecentRequest holds the query parameters of the recent sessions listing
type ListRecentRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=100"`
}
