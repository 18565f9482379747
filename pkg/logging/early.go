package logging

import (
	"fmt"
	"os"
)

// EarlyLog covers the window before the structured logger exists:
// flag parsing, config load, logger construction. It writes plain
// lines to stderr and lets the caller decide the exit path.
type EarlyLog struct{}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+msg+"\n", args...)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "FATAL: "+msg+"\n", args...)
	os.Exit(1)
}
