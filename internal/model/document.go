package model

import "encoding/json"

// Document output formats
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// RequirementDocument is the final output of the pipeline for one audio hash.
// Its existence alone means the job is complete.
type RequirementDocument struct {
	AudioHash string          `json:"audio_hash"`
	Format    string          `json:"format"`
	FilePath  string          `json:"file_path"`
	Data      json.RawMessage `json:"document_data,omitempty"` // inline JSON, json format only
	CreatedAt string          `json:"created_at"`
}

// NewRequirementDocument creates a document row stamped with the current time.
func NewRequirementDocument(hash, format, filePath string, data json.RawMessage) RequirementDocument {
	return RequirementDocument{
		AudioHash: hash,
		Format:    format,
		FilePath:  filePath,
		Data:      data,
		CreatedAt: Now(),
	}
}

// Extension returns the file extension used for the document's format.
func (d RequirementDocument) Extension() string {
	if d.Format == FormatJSON {
		return ".json"
	}
	return ".md"
}

// ContentType returns the MIME type served on download.
func (d RequirementDocument) ContentType() string {
	if d.Format == FormatJSON {
		return "application/json"
	}
	return "text/markdown; charset=utf-8"
}
