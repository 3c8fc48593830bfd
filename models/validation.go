package models

// ValidationReport is the outcome of plausibility checks over a scanned
// result set. Errors block automatic persistence; warnings are surfaced to
// the reviewer but do not.
type ValidationReport struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
}

// Warn appends a warning to the report.
func (r *ValidationReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Fail appends an error and marks the report invalid.
func (r *ValidationReport) Fail(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}
