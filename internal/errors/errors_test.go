package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeReportNotFound, "no scan report at path")
	if !strings.Contains(err.Error(), "REPORT_NOT_FOUND") {
		t.Errorf("expected code in message, got %q", err.Error())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeBackendUnavailable, "whisper sidecar unreachable")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause should satisfy errors.Is")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("cause missing from message: %q", err.Error())
	}
}

func TestMetadata(t *testing.T) {
	err := New(CodeFileProcessing, "transcription failed").WithMetadata("file", "/media/a.mp4")
	if err.Metadata["file"] != "/media/a.mp4" {
		t.Errorf("metadata not stored: %v", err.Metadata)
	}
	if !strings.Contains(err.Error(), "a.mp4") {
		t.Errorf("metadata missing from message: %q", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeProtocolInvalid, "bad line")
	if !IsCode(err, CodeProtocolInvalid) {
		t.Error("IsCode should match")
	}
	if IsCode(err, CodeTimeout) {
		t.Error("IsCode should not match different code")
	}
	if IsCode(stderrors.New("plain"), CodeProtocolInvalid) {
		t.Error("plain errors have no code")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code Code
		want bool
	}{
		{CodeBackendUnavailable, true},
		{CodeTimeout, true},
		{CodeRateLimited, true},
		{CodeFileProcessing, false},
		{CodeReportNotFound, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(New(tc.code, "x")); got != tc.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(New(CodeDiscoveryFailed, "x")) != CodeDiscoveryFailed {
		t.Error("CodeOf should return carried code")
	}
	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Error("CodeOf for plain errors should be UNKNOWN")
	}
}
