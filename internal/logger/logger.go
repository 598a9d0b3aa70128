// Package logger はアプリケーション共通のロガーを提供する
//
// go-rtmp の ConnConfig にそのまま渡せるよう logrus を使用する。
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Log はデフォルトのロガーインスタンス
var Log = newLogger(os.Stdout, logrus.InfoLevel, false)

// newLogger は出力先・レベル・形式を指定してロガーを作成する
func newLogger(out io.Writer, level logrus.Level, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// SetLevel はログレベルを変更する
func SetLevel(level logrus.Level) {
	Log.SetLevel(level)
}

// SetJSON はJSON形式の出力に切り替える（本番環境向け）
func SetJSON() {
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// Configure は設定値の文字列からレベルと形式を適用する
func Configure(level, format string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("無効なログレベル %q: %w", level, err)
	}
	SetLevel(lv)

	switch format {
	case "", "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		SetJSON()
	default:
		return fmt.Errorf("無効なログ形式: %s", format)
	}
	return nil
}

// Discard はテスト用に出力を捨てるロガーを返す
func Discard() *logrus.Logger {
	return newLogger(io.Discard, logrus.DebugLevel, false)
}
