package result

import "testing"

func TestSetSuccessRejectsMessage(t *testing.T) {
	var r Result
	if Set(&r, Success, "oops") {
		t.Fatal("Set(0, non-empty message) should fail")
	}
}

func TestSetFailureRequiresMessage(t *testing.T) {
	var r Result
	if Set(&r, ErrInput, "") {
		t.Fatal("Set(non-zero code, empty message) should fail")
	}
}

func TestSetSuccessEmptyMessage(t *testing.T) {
	var r Result
	if !Set(&r, Success, "") {
		t.Fatal("Set(0, \"\") should succeed")
	}
	if !r.OK() {
		t.Fatal("expected OK result")
	}
}

func TestClearYieldsZeroResult(t *testing.T) {
	r := Result{Code: ErrInput, Message: "bad"}
	Clear(&r)
	if r.Code != Success || r.Message != "" {
		t.Fatalf("Clear did not reset result: %+v", r)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		code      Code
		retryable bool
		critical  bool
	}{
		{Success, false, false},
		{ErrInput, false, true},
		{ErrTimeout, false, true},
		{Code(50500), true, false},
		{Code(58999), true, false},
		{Code(59000), false, true}, // boundary: high end exclusive
	}
	for _, c := range cases {
		if got := c.code.IsRetryable(); got != c.retryable {
			t.Errorf("code %d: IsRetryable()=%v want %v", c.code, got, c.retryable)
		}
		if got := c.code.IsCritical(); got != c.critical {
			t.Errorf("code %d: IsCritical()=%v want %v", c.code, got, c.critical)
		}
	}
}
