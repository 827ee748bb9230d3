package command

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/goliatone/go-acommand/flow"
)

// PanicLogger reports a recovered panic.
type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a function meant to be deferred by goroutines the
// toolkit spawns, such as scheduled jobs:
//
//	defer handler("job", map[string]any{"code": code})
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	if logger == nil {
		logger = LogPanics(nil)
	}
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			fullStack := make([]byte, 8096)
			n := runtime.Stack(fullStack, false)
			logger(funcName, err, flow.CleanStackTrace(fullStack[:n]), fields...)
		}
	}
}

// LogPanics builds a PanicLogger writing to logger at error level.
func LogPanics(logger flow.Logger) PanicLogger {
	logger = flow.NormalizeLogger(logger)
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		var sb strings.Builder
		fmt.Fprintf(&sb, "recovered from panic in %s: %v (%T)", funcName, err, err)

		if len(fields) > 0 && len(fields[0]) > 0 {
			keys := make([]string, 0, len(fields[0]))
			for k := range fields[0] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&sb, " %s=%v", k, fields[0][k])
			}
		}

		sb.WriteString("\n")
		sb.Write(stack)
		logger.Error("%s", sb.String())
	}
}
