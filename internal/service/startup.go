package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StartupErrorFile is the name of the file ReportStartupFailure writes.
const StartupErrorFile = "startup-error.log"

// ReportStartupFailure records why a service-mode launch failed, both in
// the platform event log and in <logDir>/startup-error.log. The file is
// replaced on every call so it only ever holds the latest failure.
func ReportStartupFailure(name, logDir string, err error) {
	ReportStartupError(name, err)
	_ = writeStartupErrorFile(name, logDir, err, time.Now())
}

func writeStartupErrorFile(name, logDir string, err error, at time.Time) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	f, ferr := os.Create(filepath.Join(logDir, StartupErrorFile))
	if ferr != nil {
		return ferr
	}
	defer f.Close()

	_, werr := fmt.Fprintf(f, "[%s] %s STARTUP ERROR\n%v\n", at.Format("2006-01-02 15:04:05"), name, err)
	return werr
}
