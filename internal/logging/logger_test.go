package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("verbose", nil); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "WARNING", "error"} {
		if _, err := New(level, nil); err != nil {
			t.Fatalf("New(%q): %v", level, err)
		}
	}
}

func TestDebugEnablesVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.V(1).Info("excluded dependency", "artifact", "org.apache:hadoop-core:jar")
	if !strings.Contains(buf.String(), "excluded dependency") {
		t.Fatalf("expected V(1) output at debug level, got %q", buf.String())
	}

	buf.Reset()
	quiet, err := New("info", &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	quiet.V(1).Info("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("V(1) output leaked at info level: %q", buf.String())
	}
}
