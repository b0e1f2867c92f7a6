package packerr

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestKindOfWalksWrappedChain(t *testing.T) {
	base := IO("copy file", "/tmp/a.jar", os.ErrPermission)
	wrapped := fmt.Errorf("stage dependencies: %w", base)

	if got := KindOf(wrapped); got != KindIO {
		t.Fatalf("expected io kind, got %s", got)
	}
	if !errors.Is(wrapped, os.ErrPermission) {
		t.Fatalf("expected underlying error to stay reachable")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Fatalf("plain errors should be unknown")
	}
}

func TestErrorMessageCarriesOpAndPath(t *testing.T) {
	err := Configuration("runtime library directory", "/opt/hadoop/lib", errors.New("not set"))
	msg := err.Error()
	for _, want := range []string{"configuration error", "runtime library directory", "/opt/hadoop/lib", "not set"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "configuration", err: Configuration("x", "", nil), want: 2},
		{name: "filter", err: Filter("x", "", nil), want: 3},
		{name: "io", err: IO("x", "", nil), want: 1},
		{name: "other", err: errors.New("boom"), want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExitCode(tc.err); got != tc.want {
				t.Fatalf("exit code = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	if !Is(Filter("list", "/lib", nil), KindFilter) {
		t.Fatalf("expected filter kind")
	}
	if Is(nil, KindIO) {
		t.Fatalf("nil must not match any kind")
	}
}
