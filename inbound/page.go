package inbound

import (
	"os"
	"strings"

	"github.com/goliatone/go-feed-refresh/core"
)

// EnvironmentMarker is the template line after which the enrollment id is
// injected.
const EnvironmentMarker = "environment: ENVIRONMENT,"

const enrollmentIDIndent = "            "

var jsStringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)

// InjectEnrollmentID inserts an `enrollmentId: '<id>',` line directly after the
// first line containing EnvironmentMarker. Every other line is kept as is.
func InjectEnrollmentID(template string, enrollmentID string) (string, error) {
	lines := strings.SplitAfter(template, "\n")
	var out strings.Builder
	out.Grow(len(template) + len(enrollmentID) + 32)

	inserted := false
	for _, line := range lines {
		out.WriteString(line)
		if inserted || !strings.Contains(line, EnvironmentMarker) {
			continue
		}
		if !strings.HasSuffix(line, "\n") {
			out.WriteString("\n")
		}
		out.WriteString(enrollmentIDIndent + "enrollmentId: '" + jsStringEscaper.Replace(enrollmentID) + "',\n")
		inserted = true
	}
	if !inserted {
		return "", core.TemplateError(EnvironmentMarker)
	}
	return out.String(), nil
}

// RenderPage reads the page template at path and injects enrollmentID.
func RenderPage(path string, enrollmentID string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", core.TemplateReadError(err, path)
	}
	return InjectEnrollmentID(string(data), enrollmentID)
}
