// Package logging wires up the three append-only per-process log files
// (process<pid>_<timestamp>_{Fatal,Warning,Notice}.log) on top of
// logrus, routing notice, warning, and fatal records to separate files
// by level.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// levelFileHook writes every record whose level is in Levels to its own
// *os.File, independent of whatever other hooks or the base logger's
// output are configured to do.
type levelFileHook struct {
	file      *os.File
	levels    []logrus.Level
	formatter logrus.Formatter
}

func (h *levelFileHook) Levels() []logrus.Level { return h.levels }

func (h *levelFileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.file.Write(line)
	return err
}

// Files bundles the three open log files so the caller (typically
// cmd/jrserver) can Close them during shutdown.
type Files struct {
	Notice  *os.File
	Warning *os.File
	Fatal   *os.File
}

func (f *Files) Close() {
	for _, file := range []*os.File{f.Notice, f.Warning, f.Fatal} {
		if file != nil {
			file.Close()
		}
	}
}

// New opens the three per-process log files under dir and returns a
// *logrus.Logger configured so that:
//   - NOTICE  -> logrus.InfoLevel,  written to the Notice file
//   - WARNING -> logrus.WarnLevel,  written to the Warning file
//   - FATAL   -> logrus.FatalLevel, written to the Fatal file;
//     logrus.Fatal terminates the process with exit code 1 once the
//     record is logged.
//
// All three levels also go to the logger's own io.Writer (stderr by
// default), so operators watching the process see everything the files
// capture durably.
func New(dir string) (*logrus.Logger, *Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	pid := os.Getpid()
	ts := time.Now().Format("20060102150405")
	open := func(kind string) (*os.File, error) {
		name := fmt.Sprintf("process%d_%s_%s.log", pid, ts, kind)
		return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}

	notice, err := open("Notice")
	if err != nil {
		return nil, nil, err
	}
	warning, err := open("Warning")
	if err != nil {
		notice.Close()
		return nil, nil, err
	}
	fatal, err := open("Fatal")
	if err != nil {
		notice.Close()
		warning.Close()
		return nil, nil, err
	}

	files := &Files{Notice: notice, Warning: warning, Fatal: fatal}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	formatter := &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
	logger.AddHook(&levelFileHook{file: notice, levels: []logrus.Level{logrus.InfoLevel}, formatter: formatter})
	logger.AddHook(&levelFileHook{file: warning, levels: []logrus.Level{logrus.WarnLevel}, formatter: formatter})
	logger.AddHook(&levelFileHook{file: fatal, levels: []logrus.Level{logrus.FatalLevel, logrus.PanicLevel}, formatter: formatter})

	return logger, files, nil
}

// NewDiscard returns a logger that drops everything, for tests that want
// a *logrus.Entry without touching the filesystem.
func NewDiscard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
