// Package lol (log of location) is a leveled stderr logger that appends the
// source location each entry was emitted from.
package lol

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

// Log levels, least to most verbose. Entries at or below the current level
// are printed.
const (
	Off = iota
	Fatal
	Error
	Warn
	Info
	Debug
	Trace
)

var levelNames = []string{"off", "fatal", "error", "warn", "info", "debug", "trace"}

var current atomic.Int32

func init() { current.Store(Info) }

// GetLogLevel parses a level name, falling back to info for unknown names.
func GetLogLevel(name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range levelNames {
		if n == name {
			return i
		}
	}
	return Info
}

// SetLogLevel sets the process verbosity by name.
func SetLogLevel(name string) { current.Store(int32(GetLogLevel(name))) }

// CurrentLevel returns the process verbosity.
func CurrentLevel() int { return int(current.Load()) }

func enabled(l int) bool { return int32(l) <= current.Load() }

// Printer emits entries at one fixed level.
type Printer struct {
	level int
	label string
	paint func(format string, a ...interface{}) string
}

// Log bundles one Printer per level.
type Log struct {
	F, E, W, I, D, T *Printer
}

// Main is the process-wide logger.
var Main = &Log{
	F: &Printer{Fatal, "FTL", color.New(color.FgRed, color.Bold).SprintfFunc()},
	E: &Printer{Error, "ERR", color.New(color.FgRed).SprintfFunc()},
	W: &Printer{Warn, "WRN", color.New(color.FgYellow).SprintfFunc()},
	I: &Printer{Info, "INF", color.New(color.FgGreen).SprintfFunc()},
	D: &Printer{Debug, "DBG", color.New(color.FgBlue).SprintfFunc()},
	T: &Printer{Trace, "TRC", color.New(color.FgMagenta).SprintfFunc()},
}

// F prints a formatted entry.
func (p *Printer) F(format string, a ...interface{}) {
	if !enabled(p.level) {
		return
	}
	p.emit(2, fmt.Sprintf(format, a...))
}

// Ln prints its arguments space-separated.
func (p *Printer) Ln(a ...interface{}) {
	if !enabled(p.level) {
		return
	}
	p.emit(2, strings.TrimRight(fmt.Sprintln(a...), "\n"))
}

// S spew-dumps its arguments for structural inspection.
func (p *Printer) S(a ...interface{}) {
	if !enabled(p.level) {
		return
	}
	p.emit(2, strings.TrimRight(spew.Sdump(a...), "\n"))
}

// Chk logs err when non-nil and reports whether it was. The extra frame skip
// accounts for the chk wrappers.
func (p *Printer) Chk(err error) bool {
	if err == nil {
		return false
	}
	if enabled(p.level) {
		p.emit(3, err.Error())
	}
	return true
}

func (p *Printer) emit(skip int, msg string) {
	_, file, line, ok := runtime.Caller(skip)
	loc := "???"
	if ok {
		loc = shortPath(file) + ":" + strconv.Itoa(line)
	}
	fmt.Fprintf(os.Stderr, "%s %s %s %s\n",
		time.Now().Format("15:04:05.000000"),
		p.paint("%s", p.label),
		msg,
		color.New(color.Faint).Sprint(loc),
	)
}

func shortPath(file string) string {
	parts := strings.Split(file, "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "/")
}
