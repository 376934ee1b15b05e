package logconfig

import (
	"strings"

	myLogger "github.com/sirupsen/logrus"
)

// This output format is used in the test (has terminal).
func ConfigDebugLogger() {
	myLogger.SetReportCaller(true)
	myLogger.SetLevel(myLogger.DebugLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

func ConfigInfoLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// This output format is used in production.
// Operation snapshots are logged as fields, so json keeps them greppable.
func ConfigProductionLogger() {
	myLogger.SetReportCaller(false)
	myLogger.SetLevel(myLogger.InfoLevel)
	myLogger.SetFormatter(&myLogger.JSONFormatter{})
}

// ConfigFromLevel picks one of the presets from a LOG_LEVEL value.
func ConfigFromLevel(level string) {
	switch strings.ToLower(level) {
	case "debug", "trace":
		ConfigDebugLogger()
	case "production", "json":
		ConfigProductionLogger()
	default:
		ConfigInfoLogger()
		if lvl, err := myLogger.ParseLevel(level); err == nil {
			myLogger.SetLevel(lvl)
		}
	}
}
