// Package logging はアプリケーション全体で使う zap ロガーを構築します。
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New はログレベルと出力形式からロガーを作成します。
//
// Parameters:
//
//	level  : debug / info / warn / error（それ以外は info）
//	format : json なら本番向けJSON、それ以外は開発向けのコンソール出力
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
