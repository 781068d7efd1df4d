package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func consoleLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Console: true, ConsoleOut: &buf, NoFile: true}), &buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"trace", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := parseLogLevel(tt.level); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNew_WritesLogFile(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "default name", want: defaultFilename},
		{name: "custom name", filename: "custom.log", want: "custom.log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "nested", "logs")
			log := New(Config{Level: "info", LogDir: dir, Filename: tt.filename})

			log.Info().Str("archive", "event_logs_x.tar.xz").Msg("Archive created")
			if err := log.Close(); err != nil {
				t.Fatalf("Close() = %v", err)
			}

			data, err := os.ReadFile(filepath.Join(dir, tt.want))
			if err != nil {
				t.Fatalf("log file not written: %v", err)
			}
			if !strings.Contains(string(data), `"archive":"event_logs_x.tar.xz"`) {
				t.Errorf("log file should hold JSON lines, got %s", data)
			}
		})
	}
}

func TestNew_UnusableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	log := New(Config{Level: "info", LogDir: filepath.Join(blocker, "logs")})
	if log == nil {
		t.Fatal("New should fall back to stderr")
	}
	if err := log.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestConsole(t *testing.T) {
	log, buf := consoleLogger("debug")
	log.Warn().Str("path", "a.evtx").Msg("skipping unreadable entry")

	out := buf.String()
	for _, want := range []string{"skipping unreadable entry", "path=a.evtx", "WRN"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q: %q", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := consoleLogger("error")
	log.Info().Msg("hidden")
	log.Error().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at error level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("error should be written")
	}
}

func TestNoSinks(t *testing.T) {
	log := New(Config{NoFile: true})
	log.Info().Msg("discarded")
	if err := log.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	if err := Nop().Close(); err != nil {
		t.Errorf("Nop().Close() = %v", err)
	}
}

func TestWith(t *testing.T) {
	log, buf := consoleLogger("info")
	child := log.With(map[string]string{"command": "archive"})

	child.Info().Msg("from child")
	log.Info().Msg("from parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "command=archive") {
		t.Errorf("child line should carry the field: %q", lines[0])
	}
	if strings.Contains(lines[1], "command=") {
		t.Errorf("parent line should not carry the field: %q", lines[1])
	}
}
