package models

// SourceType identifies a catalog source implementation
type SourceType string

const (
	SourceTypeCSV  SourceType = "csv"  // Local CSV file
	SourceTypeIMAP SourceType = "imap" // CSV attachment fetched from an IMAP mailbox
	SourceTypeAPI  SourceType = "api"  // Paginated JSON endpoint
)

// SourceDescriptor locates a catalog source for an import job.
// Options carries source-specific settings (CSV delimiter, IMAP subject
// filter, API auth header) without widening the typed surface.
type SourceDescriptor struct {
	Type     SourceType        `json:"type"`
	Location string            `json:"location"` // File path, mailbox subject, or URL
	Options  map[string]string `json:"options,omitempty"`
}
