//go:build !tinygo

package hal

import "log"

func init() {
	globalLogger = &stdLogger{}
}

// stdLogger is the default logger on full-size targets: the standard
// library logger with a level prefix. TinyGo builds skip this file and
// keep the no-op default unless SetLogger is called explicitly.
type stdLogger struct{}

func (*stdLogger) Debug(msg string) { log.Print("[DEBUG] " + msg) }
func (*stdLogger) Info(msg string)  { log.Print("[INFO]  " + msg) }
func (*stdLogger) Warn(msg string)  { log.Print("[WARN]  " + msg) }
func (*stdLogger) Error(msg string) { log.Print("[ERROR] " + msg) }
