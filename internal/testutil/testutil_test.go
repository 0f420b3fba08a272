package testutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// recorder stands in for a test so the failure paths can be checked without
// failing the enclosing test.
type recorder struct {
	testing.TB
	failed bool
	msg    string
}

func (r *recorder) Helper() {}

func (r *recorder) Errorf(format string, args ...any) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
}

func (r *recorder) Fatalf(format string, args ...any) { r.Errorf(format, args...) }

func (r *recorder) Fatal(args ...any) {
	r.failed = true
	r.msg = fmt.Sprint(args...)
}

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)

	r := &recorder{TB: t}
	AssertStatusCode(r, http.StatusOK, http.StatusBadRequest)
	if !r.failed {
		t.Fatal("mismatched status code was not reported")
	}
	AssertContains(t, r.msg, "200", "400")
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)

	r := &recorder{TB: t}
	AssertNoError(r, errors.New("boom"))
	if !r.failed {
		t.Fatal("non-nil error was not reported")
	}
	AssertContains(t, r.msg, "boom")
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	AssertError(t, errors.New("device error"))

	r := &recorder{TB: t}
	AssertError(r, nil)
	if !r.failed {
		t.Fatal("nil error was not reported")
	}
}

func TestAssertContains(t *testing.T) {
	t.Parallel()

	AssertContains(t, "Percentage: 50%", "Percentage", "50%")

	r := &recorder{TB: t}
	AssertContains(r, "Percentage: 50%", "Percentage", "ETA")
	if !r.failed {
		t.Fatal("missing substring was not reported")
	}
	if r.msg != `"Percentage: 50%" does not contain "ETA"` {
		t.Errorf("message = %q", r.msg)
	}
}

func TestServeAndDecode(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"method":"` + r.Method + `"}`))
	})
	rec := Serve(h, http.MethodPost, "/x", nil)
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var body map[string]string
	DecodeJSON(t, rec, &body)
	if body["method"] != http.MethodPost {
		t.Errorf("method = %q", body["method"])
	}
}
