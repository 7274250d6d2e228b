package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newCaptureAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditor_LogEvent(t *testing.T) {
	auditor, buf := newCaptureAuditor(true)

	auditor.LogTokenIssued("9026451", "mcp_client", "127.0.0.1", "mcp:tools")

	out := buf.String()
	if !strings.Contains(out, "security_audit") {
		t.Error("missing security_audit marker")
	}
	if !strings.Contains(out, EventTokenIssued) {
		t.Errorf("missing event type %q", EventTokenIssued)
	}
	if !strings.Contains(out, "mcp_client") {
		t.Error("missing client ID")
	}
	// The subject is hashed, never logged in plaintext
	if strings.Contains(out, "subject_hash=9026451") {
		t.Error("subject was logged in plaintext")
	}
}

func TestAuditor_Disabled(t *testing.T) {
	auditor, buf := newCaptureAuditor(false)

	auditor.LogAuthFailure("9026451", "mcp_client", "127.0.0.1", "bad_secret")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor produced output: %s", buf.String())
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(empty) = %q, want <empty>", got)
	}

	h1 := hashForLogging("subject-a")
	h2 := hashForLogging("subject-b")
	if h1 == h2 {
		t.Error("distinct inputs produced the same hash")
	}
	if len(h1) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(h1))
	}
	if h1 == "subject-a" {
		t.Error("hash must not equal the input")
	}
}
