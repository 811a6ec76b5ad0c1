package detect

import (
	"strings"
	"testing"
)

func TestClassifyListening(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "Plain",
			line: "Now listening on: http://localhost:5000",
			want: "http://localhost:5000",
		},
		{
			name: "LeadingWhitespace",
			line: "   \tNow listening on: http://localhost:5000",
			want: "http://localhost:5000",
		},
		{
			name: "TrailingWhitespaceTrimmed",
			line: "Now listening on: http://127.0.0.1:8080   ",
			want: "http://127.0.0.1:8080",
		},
		{
			name: "HTTPS",
			line: "Now listening on: https://localhost:5001",
			want: "https://localhost:5001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.line)
			if got.Kind != Listening {
				t.Fatalf("Classify(%q).Kind = %v, want Listening", tt.line, got.Kind)
			}
			if got.URL != tt.want {
				t.Errorf("Classify(%q).URL = %q, want %q", tt.line, got.URL, tt.want)
			}
		})
	}
}

func TestClassifyStartupComplete(t *testing.T) {
	lines := []string{
		"Application started. Press Ctrl+C to shut down.",
		"  Application started. Press Ctrl+C to shut down.",
	}
	for _, line := range lines {
		if got := Classify(line); got.Kind != StartupComplete {
			t.Errorf("Classify(%q).Kind = %v, want StartupComplete", line, got.Kind)
		}
	}
}

func TestClassifyUnremarkable(t *testing.T) {
	lines := []string{
		"",
		"info: Microsoft.Hosting.Lifetime[0]",
		// Markers embedded mid-line are not anchored matches.
		"prefix Now listening on: http://localhost:5000",
		"log: Application started. Press Ctrl+C to shut down. (archived)",
		// Case-sensitive marker.
		"now listening on: http://localhost:5000",
		"Application started",
	}
	for _, line := range lines {
		if got := Classify(line); got.Kind != Unremarkable {
			t.Errorf("Classify(%q).Kind = %v, want Unremarkable", line, got.Kind)
		}
	}
}

func TestClassifyOverlongLine(t *testing.T) {
	line := "Now listening on: http://localhost:5000" + strings.Repeat("x", maxLineLen)
	if got := Classify(line); got.Kind != Unremarkable {
		t.Errorf("overlong line classified as %v, want Unremarkable", got.Kind)
	}
}
