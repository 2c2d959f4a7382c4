package log

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level 日志级别
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	level  = int32(LevelInfo)
	logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func SetLevel(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

// SetOutput redirects the sink; the core never depends on where logs go.
func SetOutput(l *log.Logger) {
	logger = l
}

func enabled(l Level) bool {
	return int32(l) >= atomic.LoadInt32(&level)
}

func output(tag string, v ...interface{}) {
	_ = logger.Output(3, "["+tag+"] "+fmt.Sprint(v...))
}

func outputf(tag, format string, v ...interface{}) {
	_ = logger.Output(3, "["+tag+"] "+fmt.Sprintf(format, v...))
}

func Debug(v ...interface{}) {
	if enabled(LevelDebug) {
		output("DEBUG", v...)
	}
}

func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		outputf("DEBUG", format, v...)
	}
}

func Info(v ...interface{}) {
	if enabled(LevelInfo) {
		output("INFO", v...)
	}
}

func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		outputf("INFO", format, v...)
	}
}

func Warn(v ...interface{}) {
	if enabled(LevelWarn) {
		output("WARN", v...)
	}
}

func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		outputf("WARN", format, v...)
	}
}

func Error(v ...interface{}) {
	if enabled(LevelError) {
		output("ERROR", v...)
	}
}

func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		outputf("ERROR", format, v...)
	}
}

// Fatal reports a programming error (contract violation) and aborts.
func Fatal(v ...interface{}) {
	output("FATAL", v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	outputf("FATAL", format, v...)
	os.Exit(1)
}
