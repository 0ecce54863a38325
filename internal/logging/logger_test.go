package logging

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestNewCreatesThreePerProcessLogFiles(t *testing.T) {
	dir := t.TempDir()
	logger, files, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer files.Close()

	logger.Info("notice line")
	logger.Warn("warning line")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	wantSuffixes := map[string]bool{"Notice.log": false, "Warning.log": false, "Fatal.log": false}
	pidPrefix := "process" + strconv.Itoa(os.Getpid()) + "_"
	for _, e := range entries {
		for suffix := range wantSuffixes {
			if filepath.Ext(e.Name()) == ".log" && len(e.Name()) > len(pidPrefix) && e.Name()[:len(pidPrefix)] == pidPrefix {
				if len(e.Name()) >= len(suffix) && e.Name()[len(e.Name())-len(suffix):] == suffix {
					wantSuffixes[suffix] = true
				}
			}
		}
	}
	for suffix, found := range wantSuffixes {
		if !found {
			t.Fatalf("expected a log file ending in %s under %s, entries: %v", suffix, dir, entries)
		}
	}
}

func TestNewDiscardDropsEverything(t *testing.T) {
	entry := NewDiscard()
	entry.Info("should not panic or write anywhere")
}
