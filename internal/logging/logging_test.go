package logging_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/line/centraldogma-sub005/internal/logging"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := logging.New(logging.Options{})
	if log.Level.String() != "info" {
		t.Fatalf("expected info level, got %s", log.Level.String())
	}
}

func TestNewParsesExplicitLevel(t *testing.T) {
	log := logging.New(logging.Options{Level: "debug"})
	if log.Level.String() != "debug" {
		t.Fatalf("expected debug level, got %s", log.Level.String())
	}
}

func TestNewWritesJSONWhenRequested(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Options{JSON: true})
	log.SetOutput(&buf)
	log.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"hello"`)) {
		t.Fatalf("expected JSON-formatted output, got %q", buf.String())
	}
}

func TestNewRotatesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dogma.log")
	log := logging.New(logging.Options{FilePath: path})
	log.Info("rotated")
}
