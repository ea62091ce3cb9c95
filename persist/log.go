package persist

import (
	"fmt"
	"log"
	"os"

	"github.com/anthonymartin/audius-protocol/build"
)

// closeableFile wraps an os.File to perform sanity checks on its Write and
// Close methods. When the checks are enabled, calls to Write or Close will
// panic if they are called after the file has already been closed.
type closeableFile struct {
	*os.File
	closed bool
}

// Close closes the file and sets the closed flag.
func (cf *closeableFile) Close() error {
	// Sanity check - close should not have been called yet.
	if build.DEBUG && cf.closed {
		panic("cannot close the file; already closed")
	}
	// Ensure that all data has actually hit the disk.
	if err := cf.Sync(); err != nil {
		return err
	}
	cf.closed = true
	return cf.File.Close()
}

// Write takes the input data and writes it to the file.
func (cf *closeableFile) Write(b []byte) (int, error) {
	// Sanity check - close should not have been called yet.
	if build.DEBUG && cf.closed {
		panic("cannot write to the file after it has been closed")
	}
	return cf.File.Write(b)
}

// Logger is a wrapper for the standard library logger that enforces logging
// into a file with the node-standard settings. It also provides a Critical
// method for logging developer errors.
type Logger struct {
	*log.Logger
	file *closeableFile
}

// NewFileLogger returns a logger that logs to logFilename. The file is
// opened in append mode, and created if it does not exist.
func NewFileLogger(logFilename string) (*Logger, error) {
	logFile, err := os.OpenFile(logFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	cf := &closeableFile{File: logFile}
	l := log.New(cf, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC)
	l.Output(2, "STARTUP: Logging has started.")
	return &Logger{Logger: l, file: cf}, nil
}

// Close terminates the Logger.
func (l *Logger) Close() error {
	l.Output(2, "SHUTDOWN: Logging has terminated.")
	return l.file.Close()
}

// Critical logs a message with a CRITICAL prefix. If debug mode is enabled,
// it will also panic. Critical should only be called if there has been a
// developer error, otherwise Severe should be called.
func (l *Logger) Critical(v ...interface{}) {
	l.Output(2, "CRITICAL: "+fmt.Sprintln(v...))
	build.Critical(v...)
}

// Debug is equivalent to Logger.Print when build.DEBUG is true. Otherwise it
// is a no-op.
func (l *Logger) Debug(v ...interface{}) {
	if build.DEBUG {
		l.Output(2, fmt.Sprint(v...))
	}
}

// Debugf is equivalent to Logger.Printf when build.DEBUG is true. Otherwise
// it is a no-op.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if build.DEBUG {
		l.Output(2, fmt.Sprintf(format, v...))
	}
}

// Severe logs a message with a SEVERE prefix. If debug mode is enabled, it
// will also panic. Severe should be called if there is a severe problem with
// the user's machine or setup that should be addressed ASAP but does not
// necessarily require that the machine crash or exit.
func (l *Logger) Severe(v ...interface{}) {
	l.Output(2, "SEVERE: "+fmt.Sprintln(v...))
	build.Severe(v...)
}
