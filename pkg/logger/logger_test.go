package logger

import "testing"

func TestInitAndModuleLogger(t *testing.T) {
	if err := Init("debug"); err != nil {
		t.Fatalf("init logger: %v", err)
	}

	if Logger() == nil {
		t.Fatal("expected global logger to be configured")
	}

	if WithModule("sessions") == nil {
		t.Fatal("expected module logger")
	}
}

func TestInitFallsBackToInfoLevel(t *testing.T) {
	if err := Init("not-a-level"); err != nil {
		t.Fatalf("init logger with bad level: %v", err)
	}
}
