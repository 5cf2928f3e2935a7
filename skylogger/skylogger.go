package skylogger // import "github.com/skypoolhq/skypool/skylogger"

import (
	"context"
	"io/ioutil"
	"os"
	"runtime/debug"

	"github.com/skypoolhq/skypool/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	// First, define our level-handling logic.
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})

	// High-priority output should go to standard error, and low-priority
	// output should go to standard out.
	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	consoleEncoderConfig := zap.NewDevelopmentEncoderConfig()

	// Enable colored output on stdout
	consoleEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(consoleEncoderConfig)

	// Join the outputs, encoders, and level-handling functions into
	// zapcore.Cores, then tee the cores together.
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority),
	}

	// Only attach the production cores (logz.io and Sentry) outside of
	// local development, so that local runs stay quiet on the wire.
	if usingProdLogging() {
		if logzCore := newLogzioCore(zapcore.NewJSONEncoder(newLogzioEncoderConfig()), lowPriority); logzCore != nil {
			cores = append(cores, logzCore)
		}
		if sentryCore := newSentryCore(zapcore.NewJSONEncoder(newSentryEncoderConfig()), highPriority); sentryCore != nil {
			cores = append(cores, sentryCore)
		}
	} else {
		// Keep the discard sinks around so the tee shape stays the same in
		// every environment.
		discard := zapcore.AddSync(ioutil.Discard)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(newLogzioEncoderConfig()), discard, lowPriority))
	}

	logger = zap.New(zapcore.NewTee(cores...))
}

// Close flushes all production logging (i.e. Sentry and Logzio).
func Close() {
	FlushSentry()
	FlushLogzio()
	logger.Sync()
}

// Info logs some info + timestamp, but does not send it to Sentry.
func Info(v ...interface{}) {
	logger.Sugar().Info(v...)
}

// Error logs an error and sends it to Sentry.
func Error(err error) {
	logger.Sugar().Error(err)
}

// Warning logs an error in red text, like Error, but doesn't send it to
// Sentry.
func Warning(err error) {
	logger.Sugar().Warn(utils.ColorRed(err.Error()))
}

// Panic sends an error to Sentry and "pretends" to panic on it by printing the
// stack trace and calling the provided global context-cancelling function.
// This causes all the goroutines in the program to kill themselves (cleanly).
// This function should not be used except to initiate termination of the
// entire pool service. Note that passing in a nil first argument would cause
// this function to _actually_ panic, and if we're gonna panic we might as well
// do so in a useful way. Therefore, passing in a nil `globalCancel` parameter
// will just panic on `err` instead.
func Panic(globalCancel context.CancelFunc, err error) {
	PrintStackTrace()

	if globalCancel != nil {
		Info(err)
		globalCancel()
	} else {
		// If we're truly trying to panic, let's at least flush our logging
		// queues first so this error actually gets sent.
		FlushLogzio()
		FlushSentry()
		logger.Sugar().Panic(err)
	}
}

// Infof is identical to Info, since Info already respects printf syntax. We
// only include Infof for consistency with Errorf, Warningf, and Panicf.
func Infof(format string, v ...interface{}) {
	logger.Sugar().Infof(format, v...)
}

// Errorf is like Error, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Errorf(format string, v ...interface{}) {
	logger.Sugar().Errorf(format, v...)
}

// Warningf is like Warning, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Warningf(format string, v ...interface{}) {
	Warning(utils.MakeError(format, v...))
}

// Debugf logs a message only useful during development or debugging sessions.
func Debugf(format string, v ...interface{}) {
	logger.Sugar().Debugf(format, v...)
}

// Panicf is like Panic, but it respects printf syntax, i.e. takes in a format
// string and arguments, for convenience.
func Panicf(globalCancel context.CancelFunc, format string, v ...interface{}) {
	Panic(globalCancel, utils.MakeError(format, v...))
}

// Infow logs a message plus the received zap fields, to add more context to
// the log entry.
func Infow(msg string, fields []interface{}) {
	logger.Sugar().Infow(msg, fields...)
}

// Warningw is like Infow, but for warnings.
func Warningw(msg string, fields []interface{}) {
	logger.Sugar().Warnw(msg, fields...)
}

// Errorw is like Infow, but for errors, so the entry is sent to Sentry.
func Errorw(msg string, fields []interface{}) {
	logger.Sugar().Errorw(msg, fields...)
}

// PrintStackTrace prints the stack trace, for debugging purposes.
func PrintStackTrace() {
	Info("Printing stack trace: ")
	debug.PrintStack()
}
