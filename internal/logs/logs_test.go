package logs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestInitPerBootFile(t *testing.T) {
	dir := t.TempDir() + "/"
	Init(Options{Level: "debug", Format: "json", File: dir})
	t.Cleanup(func() { Init(Options{}) })

	if Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", Logger.GetLevel())
	}

	Logger.Info("hello from test")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one log file, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "espvote-") || !strings.HasSuffix(name, ".log") {
		t.Fatalf("unexpected log file name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "hello from test") {
		t.Fatalf("log file missing message: %s", b)
	}
}

func TestInitBadLevelFallsBackToInfo(t *testing.T) {
	Init(Options{Level: "loud"})
	if Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", Logger.GetLevel())
	}
}

func TestPerBootName(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)
	if got := PerBootName(ts); got != "espvote-05-03-2024-07-08-09.log" {
		t.Fatalf("unexpected name %q", got)
	}
}
