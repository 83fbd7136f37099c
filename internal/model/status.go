package model

import (
	"fmt"
	"strings"
)

const (
	StatusNotRun           = "not run"
	StatusInitializing     = "initializing"
	StatusLaunching        = "launching session"
	StatusOpeningLogin     = "opening login page"
	StatusLoggingIn        = "logging in"
	StatusLocatingTarget   = "locating target"
	StatusConnectingTarget = "connecting target"
	StatusSucceeded        = "keepalive succeeded"

	failedPrefix = "failed: "
)

func ChallengeStatus(attempt, max int) string {
	return fmt.Sprintf("entering challenge (%d/%d)", attempt, max)
}

func FailedStatus(reason string) string {
	return failedPrefix + reason
}

func IsFailedStatus(status string) bool {
	return strings.HasPrefix(status, failedPrefix)
}
