package opcuaproto

import "testing"

func TestStatusCodeSeverity(t *testing.T) {
	if !StatusGood.IsGood() {
		t.Error("StatusGood should be Good")
	}
	if !StatusBadTimeout.IsBad() {
		t.Error("StatusBadTimeout should be Bad")
	}
}

func TestOPCUAErrorIs(t *testing.T) {
	err := NewOPCUAError(ServiceWrite, StatusBadNotWritable, "node is read-only")
	target := &OPCUAError{Code: StatusBadNotWritable}
	if !err.Is(target) {
		t.Error("expected Is to match on status code")
	}
	other := &OPCUAError{Code: StatusBadTimeout}
	if err.Is(other) {
		t.Error("expected Is to not match a different status code")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewOPCUAError(ServiceRead, StatusBadSessionClosed, "")) {
		t.Error("expected BadSessionClosed to be retryable")
	}
	if IsRetryable(NewOPCUAError(ServiceWrite, StatusBadNotWritable, "")) {
		t.Error("expected BadNotWritable to not be retryable")
	}
}
