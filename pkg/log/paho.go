package log

import (
	"fmt"
	"strings"
)

// PahoLogger adapts a Logger to the Println/Printf logger that
// github.com/eclipse/paho.golang accepts for its Debug, Errors and
// PahoDebug hooks.
type PahoLogger struct {
	logger Logger
	errors bool
}

// NewPahoLogger returns an adapter that writes at debug level, or at error
// level when errors is true.
func NewPahoLogger(l Logger, errors bool) *PahoLogger {
	if l == nil {
		l = Std()
	}
	return &PahoLogger{logger: l, errors: errors}
}

func (p *PahoLogger) Println(v ...any) {
	p.emit(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (p *PahoLogger) Printf(format string, v ...any) {
	p.emit(fmt.Sprintf(format, v...))
}

func (p *PahoLogger) emit(msg string) {
	if p.errors {
		p.logger.Error(nil, msg)
		return
	}
	p.logger.Debug(msg)
}
