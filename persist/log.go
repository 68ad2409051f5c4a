// Package persist provides the logging and snapshot-adjacent helpers shared
// by the chunk management core. It does not implement the chunk snapshot
// format itself (see the snapshot package for that); it supplies the ambient
// pieces - a structured logger in the style used throughout the rest of the
// core - that every other package depends on.
package persist

import (
	"io"
	"log"
	"os"

	"github.com/moosefs/chunkmaster/build"
)

// Logger wraps the standard library logger with Debug-gated helpers and the
// Critical/Severe escalation levels used elsewhere in the core.
type Logger struct {
	*log.Logger
	closer io.Closer
}

// NewLogger returns a Logger that writes to w. The caller is responsible for
// closing w, if it needs closing; Close on the returned Logger is a no-op in
// that case.
func NewLogger(w io.Writer) *Logger {
	return &Logger{
		Logger: log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// NewFileLogger returns a Logger that appends to the file at path, creating
// it if necessary.
func NewFileLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0660)
	if err != nil {
		return nil, err
	}
	l := NewLogger(f)
	l.closer = f
	return l, nil
}

// Debugln calls Println on the logger only when build.DEBUG is set.
func (l *Logger) Debugln(v ...interface{}) {
	if build.DEBUG {
		l.Println(append([]interface{}{"[DEBUG]"}, v...)...)
	}
}

// Debugf calls Printf on the logger only when build.DEBUG is set.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if build.DEBUG {
		l.Printf("[DEBUG] "+format, v...)
	}
}

// Severe logs a message at severe level and additionally calls build.Severe,
// which may panic in debug builds.
func (l *Logger) Severe(v ...interface{}) {
	l.Println(append([]interface{}{"[SEVERE]"}, v...)...)
	build.Severe(v...)
}

// Critical logs a message at critical level and additionally calls
// build.Critical, which may panic in debug builds.
func (l *Logger) Critical(v ...interface{}) {
	l.Println(append([]interface{}{"[CRITICAL]"}, v...)...)
	build.Critical(v...)
}

// Close closes the underlying writer, if the Logger owns one.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
