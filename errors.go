/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. Without --verbose only warnings
// and errors are written.
func newLogger(verbose bool) (*zap.Logger, error) {
	level := zap.WarnLevel
	if verbose {
		level = zap.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logDate)
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zc.EncoderConfig.ConsoleSeparator = " | "
	zc.DisableCaller = true
	zc.DisableStacktrace = true
	zc.Sampling = nil

	return zc.Build()
}

func logf(cfg *Config, format string, args ...any) {
	if cfg.logger == nil {
		return
	}

	cfg.logger.Infof(format, args...)
}

func errorf(cfg *Config, format string, args ...any) {
	if cfg.logger == nil {
		return
	}

	cfg.logger.Errorf(format, args...)
}

func newPage(cfg *Config, title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon(cfg))
	htmlBody.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	htmlBody.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/style.css">`, cfg.prefix))
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body>%s</body></html>", body))

	return htmlBody.String()
}
