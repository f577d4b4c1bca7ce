// Package monitoring holds the diagnostic logger shared by the sensor runtime,
// the capture session and the output writers.
package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. The CLI mutes it with --quiet.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Capture redirects Logf into *lines until restore is called. Runtime
// goroutines may log concurrently, so appends are serialised.
func Capture(lines *[]string) (restore func()) {
	var mu sync.Mutex
	original := Logf
	Logf = func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		*lines = append(*lines, fmt.Sprintf(format, v...))
	}
	return func() { Logf = original }
}
