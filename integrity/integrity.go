// Package integrity implements the integrity reporter consumed by the
// database client's CheckIntegrity call.
package integrity

import "github.com/pkg/errors"

// Severity classifies an Issue.
type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Issue is a single finding from a CheckIntegrity pass.
type Issue struct {
	Severity Severity
	Message  string
}

// Report collects every issue found by a single CheckIntegrity pass.
type Report struct {
	Issues []Issue
}

// ErrStrict is returned by CheckIntegrity(strict=true) when the report
// contains at least one Error-severity issue.
var ErrStrict = errors.New("integrity: strict mode found one or more errors")

// Add appends an issue to the report.
func (r *Report) Add(sev Severity, message string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Message: message})
}

// HasErrors reports whether any issue has Error severity.
func (r *Report) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == Error {
			return true
		}
	}
	return false
}
