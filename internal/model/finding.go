package model

// Severity classifies how urgent a finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Finding is a single structured issue extracted from model output.
// Line ranges are file-absolute and 1-based.
type Finding struct {
	Severity     Severity `json:"severity"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	File         string   `json:"file"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}
