package smtp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage_Headers(t *testing.T) {
	msg := string(buildMessage("noreply@axiam.io", "user@example.com", "Verify your email", "hello", time.Unix(0, 0)))

	assert.True(t, strings.HasPrefix(msg, "From: noreply@axiam.io\r\nTo: user@example.com\r\nSubject: Verify your email\r\n"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\nhello")
}

func TestBuildMessage_StripsHeaderInjection(t *testing.T) {
	msg := string(buildMessage("a@b.c", "user@example.com", "Hi\r\nBcc: evil@example.com", "body", time.Unix(0, 0)))

	assert.Contains(t, msg, "Subject: HiBcc: evil@example.com\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
}
