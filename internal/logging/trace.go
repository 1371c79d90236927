package logging

import (
	"fmt"
	"time"
)

// DebugStart logs a debug line marking the start of an operation and returns
// a closure that logs the end status with the elapsed time. Typical use:
//
//	done := logging.DebugStart(logger, "verify", "%s", artifact)
//	err := run()
//	done(err)
func DebugStart(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}

	if format != "" {
		logger.Debug("Start %s: %s", operation, fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Start %s", operation)
	}

	started := time.Now()
	return func(err error) {
		elapsed := time.Since(started).Round(time.Millisecond)
		if err != nil {
			logger.Debug("End %s: %v (after %s)", operation, err, elapsed)
			return
		}
		logger.Debug("End %s: ok (after %s)", operation, elapsed)
	}
}

// DebugStep logs a debug progress line inside an operation started with
// DebugStart.
func DebugStep(logger *Logger, operation string, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	message := fmt.Sprintf(format, args...)
	if operation == "" {
		logger.Debug("%s", message)
		return
	}
	logger.Debug("%s: %s", operation, message)
}
