package verrors

import (
	"errors"
	"io"
	"testing"
)

func TestErrorsAsMatchesThroughWrapping(t *testing.T) {
	base := io.ErrUnexpectedEOF

	wrapped := error(&NetworkError{Op: "read", Addr: "10.0.0.1:1256", Err: base})
	var netErr *NetworkError
	if !errors.As(wrapped, &netErr) {
		t.Fatal("errors.As did not match *NetworkError")
	}
	if !errors.Is(wrapped, base) {
		t.Error("errors.Is did not see through NetworkError to the wrapped sentinel")
	}
}

func TestIntegrityErrorMessage(t *testing.T) {
	err := &IntegrityError{Filename: "report.pdf", Want: 111, Got: 222, Attempt: 2}
	got := err.Error()
	if got == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestEachKindImplementsError(t *testing.T) {
	var errs = []error{
		&ConfigError{Op: "load", Err: errors.New("boom")},
		&NetworkError{Op: "dial", Err: errors.New("boom")},
		&ProtocolError{Op: "dispatch", Code: 1028, Err: errors.New("boom")},
		&CryptoError{Op: "unwrap", Err: errors.New("boom")},
		&StorageError{Op: "register", Client: "alice", Err: errors.New("boom")},
		&IntegrityError{Filename: "f", Want: 1, Got: 2, Attempt: 1},
	}
	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("%T: expected non-empty Error() string", e)
		}
	}
}
