/*
Package smtplog implements a small structured logger for the smtp client,
following the shape of laitos's lalog.Logger: a component name plus a set of
key/value identifier fields, rate-limited so that a misbehaving server cannot
make a connection spam stderr forever.
*/
package smtplog

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"sync"
)

// IDField is a single key/value pair that identifies the origin of a log
// entry, e.g. the remote address of the connection that produced it.
type IDField struct {
	Key   string
	Value interface{}
}

// Logger writes log messages in a regular "Component[k=v].Func: msg" format
// and keeps a bounded ring buffer of the most recent lines for inspection.
type Logger struct {
	ComponentName string
	ComponentID   []IDField

	initOnce sync.Once
	recent   *ringBuffer
	rate     *rateLimit
}

func (logger *Logger) initOnceLocked() {
	logger.initOnce.Do(func() {
		logger.recent = newRingBuffer(256)
		logger.rate = newRateLimit(1, 200)
	})
}

func (logger *Logger) componentIDs() string {
	if len(logger.ComponentID) == 0 {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range logger.ComponentID {
		fmt.Fprintf(&buf, "%s=%v", f.Key, f.Value)
		if i < len(logger.ComponentID)-1 {
			buf.WriteByte(';')
		}
	}
	buf.WriteByte(']')
	return buf.String()
}

// Format renders a log message without printing it.
func (logger *Logger) Format(funcName string, actor interface{}, err error, template string, values ...interface{}) string {
	var buf bytes.Buffer
	if logger.ComponentName != "" {
		buf.WriteString(logger.ComponentName)
	}
	buf.WriteString(logger.componentIDs())
	if funcName != "" {
		if buf.Len() > 0 {
			buf.WriteByte('.')
		}
		buf.WriteString(funcName)
	}
	if actor != nil && actor != "" {
		fmt.Fprintf(&buf, "(%v)", actor)
	}
	if buf.Len() > 0 {
		buf.WriteString(": ")
	}
	if err != nil {
		fmt.Fprintf(&buf, "error %q - ", err.Error())
	}
	fmt.Fprintf(&buf, template, values...)
	return buf.String()
}

// Info logs an informational message.
func (logger *Logger) Info(funcName string, actor interface{}, template string, values ...interface{}) {
	logger.initOnceLocked()
	msg := logger.Format(funcName, actor, nil, template, values...)
	logger.recent.push(msg)
	if logger.rate.add(funcName) {
		log.Print(msg)
	}
}

// Warning logs a warning, always printed regardless of the rate limiter's
// info-level suppression so that genuine failures are never silently lost.
func (logger *Logger) Warning(funcName string, actor interface{}, err error, template string, values ...interface{}) {
	logger.initOnceLocked()
	msg := logger.Format(funcName, actor, err, template, values...)
	logger.recent.push(msg)
	log.Print(msg)
}

// MaybeMinorError logs err at info level unless it is nil or looks like the
// routine "use of closed network connection"/EOF noise produced when a peer
// tears down a connection we were already shutting down.
func (logger *Logger) MaybeMinorError(funcName string, err error) {
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "closed") || strings.Contains(err.Error(), "broken") || strings.Contains(err.Error(), "EOF") {
		return
	}
	logger.Info(funcName, nil, "minor error: %v", err)
}

// Recent returns up to n of the most recently logged lines, newest first.
func (logger *Logger) Recent(n int) []string {
	logger.initOnceLocked()
	return logger.recent.latest(n)
}
