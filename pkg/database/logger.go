package database

import (
	"strings"

	"zapai.dev/pkg/utils/log"
	"zapai.dev/pkg/utils/lol"
)

// logger adapts the gateway logger to badger's Logger interface, with its
// own level so badger chatter can be quieted independently.
type logger struct {
	level int
}

func newLogger(level int) *logger { return &logger{level: level} }

// SetLogLevel changes the badger log level by name.
func (l *logger) SetLogLevel(name string) { l.level = lol.GetLogLevel(name) }

func trim(format string) string { return strings.TrimSuffix(format, "\n") }

func (l *logger) Errorf(format string, a ...any) {
	if l.level >= lol.Error {
		log.E.F("badger: "+trim(format), a...)
	}
}

func (l *logger) Warningf(format string, a ...any) {
	if l.level >= lol.Warn {
		log.W.F("badger: "+trim(format), a...)
	}
}

func (l *logger) Infof(format string, a ...any) {
	if l.level >= lol.Info {
		log.I.F("badger: "+trim(format), a...)
	}
}

func (l *logger) Debugf(format string, a ...any) {
	if l.level >= lol.Debug {
		log.D.F("badger: "+trim(format), a...)
	}
}
