// Package logsink appends lines to per-process log files and writes the
// scheduler's snapshot report, using open-append-close semantics: durable
// and slow, which is acceptable at this scale.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mvillar24/csopesy-emulator/internal/logging"
)

var log = logging.For("logsink")

// Dir is the directory holding one log file per process.
const Dir = "logs"

// PathFor returns the log file path for a process name.
func PathFor(name string) string {
	return filepath.Join(Dir, name+".txt")
}

// Init creates (or truncates) the log file with the two-line header the
// spec requires, and returns its path. Failure to create the logs
// directory or file is reported but otherwise non-fatal: logging is
// best-effort per the error handling design.
func Init(name string) string {
	path := PathFor(name)
	if err := os.MkdirAll(Dir, 0o755); err != nil {
		log.WithField("error", err).Warn("could not create logs directory")
		return path
	}
	f, err := os.Create(path)
	if err != nil {
		log.WithField("error", err).Warn("could not create process log file")
		return path
	}
	defer f.Close()
	fmt.Fprintf(f, "Process: %s\nLogs:\n", name)
	return path
}

// Append opens the file, writes one line, and closes it again. A failure
// here is swallowed: best-effort logging per the spec's error table.
func Append(path, line string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithField("error", err).Warn("could not open log file for append")
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

// WriteReport truncates and writes the report-util snapshot file.
func WriteReport(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
