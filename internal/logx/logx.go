// Package logx wraps gologger behind the teacher's own call-site names
// (LogInfo/LogDebug/LogWarning/LogError) so the rest of the module logs
// the way the teacher does, on top of a real structured logger instead of
// bare fmt.Printf plus hand-rolled ANSI codes.
package logx

import (
	"fmt"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"
)

// SetVerbose raises the logger to debug level, mirroring the teacher's
// config.Debug/config.Verbose gate.
func SetVerbose(verbose bool) {
	if verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
		return
	}
	gologger.DefaultLogger.SetMaxLevel(levels.LevelInfo)
}

func LogInfo(format string, args ...any) {
	gologger.Info().Msg(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	gologger.Debug().Msg(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...any) {
	gologger.Warning().Msg(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	gologger.Error().Msg(fmt.Sprintf(format, args...))
}
