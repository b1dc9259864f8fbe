package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var Root Logger = New(os.Stderr)

// Logger is the logger interface. The variadic arguments are key value pairs. The key must be a
// string and the value should have a meaningful string representation.
type Logger interface {
	Debug(string, ...interface{})
	Error(string, ...interface{})
	Crit(string, ...interface{})
	With(...interface{}) Logger
}

// Default is the default logger writing structured lines using zerolog.
type Default struct {
	ZL   zerolog.Logger
	Tags []interface{}
}

// New returns a default logger writing to the given file.
func New(f *os.File) *Default {
	zl := zerolog.New(f).With().Timestamp().Logger()
	return &Default{ZL: zl}
}

func (l *Default) Debug(m string, s ...interface{}) { tag(l.ZL.Debug(), s, l.Tags).Msg(m) }
func (l *Default) Error(m string, s ...interface{}) { tag(l.ZL.Error(), s, l.Tags).Msg(m) }
func (l *Default) Crit(m string, s ...interface{})  { tag(l.ZL.Fatal(), s, l.Tags).Msg(m) }
func (l *Default) With(tags ...interface{}) Logger  { return l.with(tags) }

func (l *Default) with(tags []interface{}) *Default {
	t := make([]interface{}, 0, len(tags)+len(l.Tags))
	t = append(t, tags...)
	t = append(t, l.Tags...)
	return &Default{ZL: l.ZL, Tags: t}
}

func tag(ev *zerolog.Event, all ...[]interface{}) *zerolog.Event {
	for _, tags := range all {
		for i := 0; i+1 < len(tags); i += 2 {
			k, ok := tags[i].(string)
			if !ok {
				k = fmt.Sprint(tags[i])
			}
			ev = ev.Interface(k, tags[i+1])
		}
	}
	return ev
}

func tfmt(lvl, msg string, all ...[]interface{}) string {
	var b strings.Builder
	b.WriteString(lvl)
	b.WriteString(msg)
	for _, tags := range all {
		for i, v := range tags {
			if i%2 == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteByte('=')
			}
			b.WriteString(fmt.Sprint(v))
		}
	}
	return b.String()
}
