package mailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerificationBody(t *testing.T) {
	body := VerificationBody("123456")
	assert.Contains(t, body, "123456")
}

func TestForwardNotice(t *testing.T) {
	body := ForwardNotice("12345", "Block A", "no water", "handle today")
	assert.Contains(t, body, "#12345")
	assert.Contains(t, body, "Block A")
	assert.Contains(t, body, "no water")
	assert.Contains(t, body, "Administrative Note")
	assert.Contains(t, body, "handle today")
}

func TestForwardNoticeWithoutNote(t *testing.T) {
	body := ForwardNotice("12345", "Block A", "no water", "")
	assert.NotContains(t, body, "Administrative Note")
}
