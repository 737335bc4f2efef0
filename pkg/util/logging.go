package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogger initializes the control plane logger
// NOTE: when logDir is empty only stdout and stderr are used
func DefaultLogger(debugMode bool, logDir string) (*zap.Logger, error) {
	return ConsoleLogger(debugMode, logDir, os.Stdout, os.Stderr)
}

// ConsoleLogger is DefaultLogger writing console output to given streams,
// errors and above go to highOut, everything else to lowOut
func ConsoleLogger(debugMode bool, logDir string, lowOut, highOut io.Writer) (*zap.Logger, error) {
	logDir = strings.TrimSpace(logDir)

	lowSink := zapcore.Lock(zapcore.AddSync(lowOut))
	highSink := zapcore.Lock(zapcore.AddSync(highOut))

	var core zapcore.Core

	//---------------------------------------------------------------------------
	// log enablers and conjunction
	//---------------------------------------------------------------------------
	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})

	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		if !debugMode && lvl == zapcore.DebugLevel {
			return false
		}

		return lvl < zapcore.ErrorLevel
	})

	//---------------------------------------------------------------------------
	// console only
	//---------------------------------------------------------------------------
	if logDir == "" {
		core = zapcore.NewTee(
			zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), highSink, highPriority),
			zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), lowSink, lowPriority),
		)

		return zap.New(core), nil
	}

	if err := CreateDirectoryIfNotExists(logDir, 0750); err != nil {
		return nil, err
	}

	//---------------------------------------------------------------------------
	// error and security event logfiles
	//---------------------------------------------------------------------------
	errFile, err := openLogFile(filepath.Join(logDir, "errors.log"))
	if err != nil {
		return nil, err
	}

	stdFile, err := openLogFile(filepath.Join(logDir, "controlplane.log"))
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), errFile, highPriority),
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), stdFile, lowPriority),
	}

	// debug mode mirrors everything to the console as well
	if debugMode {
		cores = append(
			cores,
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), highSink, highPriority),
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), lowSink, lowPriority),
		)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", path)
	}

	return zapcore.Lock(zapcore.AddSync(f)), nil
}
