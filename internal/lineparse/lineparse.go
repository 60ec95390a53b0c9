// Package lineparse splits a raw note line into a ticket summary and labels.
package lineparse

import (
	"regexp"
	"strings"
)

// A literal '#' anywhere starts a label token that runs to the next
// non-word character. There is no escaping in the note format.
var labelRe = regexp.MustCompile(`#(\w+)`)

// Result holds the output of parsing one note line.
type Result struct {
	Summary string
	Labels  []string
}

// Parse extracts every #word token as a label, in order of appearance with
// duplicates and case preserved, and returns the line with the tokens removed
// and surrounding whitespace trimmed as the summary. A line without tokens
// yields no labels and a summary equal to the trimmed input.
func Parse(line string) Result {
	var labels []string
	for _, m := range labelRe.FindAllStringSubmatch(line, -1) {
		labels = append(labels, m[1])
	}
	summary := strings.TrimSpace(labelRe.ReplaceAllString(line, ""))
	return Result{Summary: summary, Labels: labels}
}
