package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected string
	}{
		{ErrNotFound, "not found"},
		{ErrAlreadyExists, "already exists"},
		{ErrInvalidState, "invalid state"},
		{ErrInvalidConfig, "invalid config"},
		{ErrPermission, "permission denied"},
		{ErrResource, "resource error"},
		{ErrEnumeration, "enumeration error"},
		{ErrCapability, "capability error"},
		{ErrSectionBuild, "section build error"},
		{ErrSectionRegistry, "section registry error"},
		{ErrProtocol, "protocol error"},
		{ErrInternal, "internal error"},
		{ErrorKind(999), "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("ErrorKind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBrokerError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *BrokerError
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "<nil>",
		},
		{
			name: "full error",
			err: &BrokerError{
				Op:      "build",
				Section: "SSL_INT_0",
				Kind:    ErrNotFound,
				Detail:  "no vfio devices",
				Err:     fmt.Errorf("file not found"),
			},
			expected: "section SSL_INT_0: build: no vfio devices: file not found",
		},
		{
			name: "without section",
			err: &BrokerError{
				Op:     "enumerate",
				Kind:   ErrEnumeration,
				Detail: "vfio open failed",
			},
			expected: "enumerate: vfio open failed",
		},
		{
			name: "kind only",
			err: &BrokerError{
				Kind: ErrPermission,
			},
			expected: "permission denied",
		},
		{
			name: "with underlying error",
			err: &BrokerError{
				Op:   "query",
				Kind: ErrCapability,
				Err:  fmt.Errorf("device busy"),
			},
			expected: "query: capability error: device busy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("BrokerError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBrokerError_Unwrap(t *testing.T) {
	underlying := fmt.Errorf("underlying error")
	err := &BrokerError{
		Op:   "test",
		Kind: ErrInternal,
		Err:  underlying,
	}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}

	var nilErr *BrokerError
	if got := nilErr.Unwrap(); got != nil {
		t.Errorf("nil.Unwrap() = %v, want nil", got)
	}
}

func TestBrokerError_Is(t *testing.T) {
	err1 := &BrokerError{Kind: ErrNotFound, Op: "test1"}
	err2 := &BrokerError{Kind: ErrNotFound, Op: "test2"}
	err3 := &BrokerError{Kind: ErrPermission, Op: "test3"}

	if !err1.Is(err2) {
		t.Error("err1.Is(err2) should be true (same kind)")
	}

	if err1.Is(err3) {
		t.Error("err1.Is(err3) should be false (different kind)")
	}

	if err1.Is(fmt.Errorf("some error")) {
		t.Error("err1.Is(fmt.Errorf(...)) should be false")
	}

	var nilErr *BrokerError
	if !nilErr.Is(nil) {
		t.Error("nil.Is(nil) should be true")
	}
}

func TestNew(t *testing.T) {
	err := New(ErrInvalidConfig, "validate", "policy is empty")

	if err.Kind != ErrInvalidConfig {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrInvalidConfig)
	}
	if err.Op != "validate" {
		t.Errorf("Op = %q, want %q", err.Op, "validate")
	}
	if err.Detail != "policy is empty" {
		t.Errorf("Detail = %q, want %q", err.Detail, "policy is empty")
	}
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	err := Wrap(underlying, ErrPermission, "open file")

	if err.Err != underlying {
		t.Error("Wrapped error should preserve underlying error")
	}
	if err.Kind != ErrPermission {
		t.Errorf("Kind = %v, want %v", err.Kind, ErrPermission)
	}
	if err.Op != "open file" {
		t.Errorf("Op = %q, want %q", err.Op, "open file")
	}
}

func TestWrapWithSection(t *testing.T) {
	underlying := fmt.Errorf("not found")
	err := WrapWithSection(underlying, ErrNotFound, "acquire", "SSL_INT_1")

	if err.Section != "SSL_INT_1" {
		t.Errorf("Section = %q, want %q", err.Section, "SSL_INT_1")
	}
}

func TestWrapWithDetail(t *testing.T) {
	underlying := fmt.Errorf("syscall failed")
	err := WrapWithDetail(underlying, ErrProtocol, "decode", "invalid header length")

	if err.Detail != "invalid header length" {
		t.Errorf("Detail = %q, want %q", err.Detail, "invalid header length")
	}
}

func TestIsKind(t *testing.T) {
	err := &BrokerError{Kind: ErrNotFound}
	wrapped := fmt.Errorf("wrapped: %w", err)

	if !IsKind(err, ErrNotFound) {
		t.Error("IsKind(err, ErrNotFound) should be true")
	}
	if !IsKind(wrapped, ErrNotFound) {
		t.Error("IsKind(wrapped, ErrNotFound) should be true")
	}
	if IsKind(err, ErrPermission) {
		t.Error("IsKind(err, ErrPermission) should be false")
	}
	if IsKind(fmt.Errorf("plain error"), ErrNotFound) {
		t.Error("IsKind(plain error, ErrNotFound) should be false")
	}
}

func TestGetKind(t *testing.T) {
	err := &BrokerError{Kind: ErrSectionBuild}
	wrapped := fmt.Errorf("wrapped: %w", err)

	kind, ok := GetKind(err)
	if !ok || kind != ErrSectionBuild {
		t.Errorf("GetKind(err) = (%v, %v), want (%v, true)", kind, ok, ErrSectionBuild)
	}

	kind, ok = GetKind(wrapped)
	if !ok || kind != ErrSectionBuild {
		t.Errorf("GetKind(wrapped) = (%v, %v), want (%v, true)", kind, ok, ErrSectionBuild)
	}

	_, ok = GetKind(fmt.Errorf("plain error"))
	if ok {
		t.Error("GetKind(plain error) should return false")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *BrokerError
		kind ErrorKind
	}{
		{"ErrNoVFIODevices", ErrNoVFIODevices, ErrEnumeration},
		{"ErrVFIOGroupBusy", ErrVFIOGroupBusy, ErrEnumeration},
		{"ErrSectionAlreadyAssigned", ErrSectionAlreadyAssigned, ErrInvalidState},
		{"ErrSectionNotAssigned", ErrSectionNotAssigned, ErrInvalidState},
		{"ErrBadVersion", ErrBadVersion, ErrProtocol},
		{"ErrBadLength", ErrBadLength, ErrProtocol},
		{"ErrIncompatiblePF", ErrIncompatiblePF, ErrCapability},
		{"ErrUnknownService", ErrUnknownService, ErrCapability},
		{"ErrPolicyExceedsDevices", ErrPolicyExceedsDevices, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("%s.Kind = %v, want %v", tt.name, tt.err.Kind, tt.kind)
			}
			wrapped := Wrap(fmt.Errorf("underlying"), tt.kind, "test")
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(wrapped, %s) should be true", tt.name)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	underlying := fmt.Errorf("file not found")
	err1 := Wrap(underlying, ErrNotFound, "build section")
	err2 := fmt.Errorf("broker operation failed: %w", err1)

	if !errors.Is(err2, ErrSectionNotFound) {
		t.Error("errors.Is should find ErrSectionNotFound in chain")
	}

	var berr *BrokerError
	if !errors.As(err2, &berr) {
		t.Error("errors.As should find BrokerError in chain")
	}
	if berr.Op != "build section" {
		t.Errorf("berr.Op = %q, want %q", berr.Op, "build section")
	}

	if errors.Unwrap(err1) != underlying {
		t.Error("Unwrap should return underlying error")
	}
}
