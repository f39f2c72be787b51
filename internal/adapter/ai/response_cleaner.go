package ai

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// ResponseCleaner normalizes completion text before it is cached or shown.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// Clean strips reasoning blocks some models emit (<think>...</think>),
// collapses runs of blank lines and trims surrounding whitespace.
func (rc *ResponseCleaner) Clean(response string) string {
	response = thinkBlockRe.ReplaceAllString(response, "")
	// An unterminated block means the model was cut off mid-reasoning.
	if i := strings.Index(strings.ToLower(response), "<think>"); i >= 0 {
		response = response[:i]
	}
	response = strings.ReplaceAll(response, "\r\n", "\n")
	response = blankRunRe.ReplaceAllString(response, "\n\n")
	return strings.TrimSpace(response)
}

// IsEmpty reports whether the cleaned response carries no text.
func (rc *ResponseCleaner) IsEmpty(response string) bool {
	return rc.Clean(response) == ""
}
