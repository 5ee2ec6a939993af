// Package logger builds the process logger and the audit log streamer.
package logger

import (
	"go.uber.org/zap"
)

// New returns a production JSON logger for "production" and a development
// console logger otherwise.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
