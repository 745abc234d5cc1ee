package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "message only",
			err:  E(KindCardDiscarded, "extract.Extract", "no usable id"),
			want: []string{"extract.Extract", "no usable id", "card_discarded"},
		},
		{
			name: "cause only",
			err:  Wrap(KindSessionAborted, "session.Open", cause),
			want: []string{"session.Open", "session_aborted", "connection reset"},
		},
		{
			name: "message and cause",
			err:  Wrapf(KindClassificationTransient, "emotion.classify", cause, "attempt %d", 2),
			want: []string{"emotion.classify", "attempt 2", "classification_transient", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, part := range tt.want {
				if !strings.Contains(msg, part) {
					t.Errorf("Error() = %q, missing %q", msg, part)
				}
			}
		})
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := E(KindClassificationTransient, "emotion.classify", "malformed reply")
	outer := Wrap(KindClassificationFailed, "emotion.ClassifyText", inner)

	// The outermost kind wins.
	if got := KindOf(outer); got != KindClassificationFailed {
		t.Errorf("KindOf() = %v, want %v", got, KindClassificationFailed)
	}
	if !Is(outer, KindClassificationFailed) {
		t.Error("Is() should match the outermost kind")
	}
	if Is(outer, KindClassificationTransient) {
		t.Error("Is() should not match an inner kind")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Plain errors have no kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindDownloadFailed, "fetcher.Fetch", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(E(KindClassificationTransient, "op", "timeout")) {
		t.Error("Transient classification failures are retryable")
	}
	for _, kind := range []Kind{
		KindClassificationFailed,
		KindSessionAborted,
		KindCardDiscarded,
		KindDownloadFailed,
		KindConfigInvalid,
	} {
		if IsRetryable(E(kind, "op", "x")) {
			t.Errorf("%v should not be retryable", kind)
		}
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("Untyped errors should not be retryable")
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{200, false},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
	}

	for _, tt := range tests {
		if got := IsRetryableStatusCode(tt.code); got != tt.want {
			t.Errorf("IsRetryableStatusCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
