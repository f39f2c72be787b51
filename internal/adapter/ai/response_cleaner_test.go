package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseCleaner_Clean(t *testing.T) {
	rc := NewResponseCleaner()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  hello world \n", "hello world"},
		{"think block", "<think>plan the answer</think>\n\nThe answer is 4.", "The answer is 4."},
		{"multiline think", "<THINK>\nstep 1\nstep 2\n</THINK>Done", "Done"},
		{"unterminated think", "Partial answer <think>still reasoning", "Partial answer"},
		{"blank runs", "a\n\n\n\n\nb", "a\n\nb"},
		{"crlf", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"code fences kept", "```go\nfmt.Println(1)\n```", "```go\nfmt.Println(1)\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rc.Clean(tt.in))
		})
	}
}

func TestResponseCleaner_IsEmpty(t *testing.T) {
	rc := NewResponseCleaner()
	assert.True(t, rc.IsEmpty("   "))
	assert.True(t, rc.IsEmpty("<think>only reasoning</think>"))
	assert.False(t, rc.IsEmpty("hi"))
}
