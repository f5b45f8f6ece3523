package upstream

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{"client error should not retry", ErrorClassClient, false},
		{"server error should retry", ErrorClassServer, true},
		{"network error should retry", ErrorClassNetwork, true},
		{"empty error class should not retry", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorClass
	}{
		{"transport error", 0, errors.New("connection refused"), ErrorClassNetwork},
		{"ok", http.StatusOK, nil, ""},
		{"not modified", http.StatusNotModified, nil, ""},
		{"unauthorized", http.StatusUnauthorized, nil, ErrorClassClient},
		{"locked", http.StatusLocked, nil, ErrorClassClient},
		{"bad gateway", http.StatusBadGateway, nil, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.status}
			}
			if got := Classify(resp, tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &Error{Class: ErrorClassNetwork, Message: "GET /api/products", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Error should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "network") || !strings.Contains(err.Error(), "refused") {
		t.Errorf("unexpected message %q", err.Error())
	}

	plain := &Error{Class: ErrorClassNetwork, Message: "GET /api/products"}
	if got := plain.Error(); got != "upstream network error: GET /api/products" {
		t.Errorf("Error() = %q", got)
	}

	var target *Error
	if !errors.As(error(err), &target) || target.Class != ErrorClassNetwork {
		t.Error("errors.As should find *Error")
	}
}
