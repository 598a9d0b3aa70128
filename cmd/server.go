// Package main はcamrtmpサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"camrtmp/internal/config"
	"camrtmp/internal/logger"
	"camrtmp/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configPath = flag.String("config", os.Getenv("CAMRTMP_CONFIG"), "設定ファイル (YAML) のパス")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		permission = flag.String("permission", "", "パーミッションの判定方法 (device / grant / deny)")
		logLevel   = flag.String("log-level", "", "ログレベル (debug / info / warn / error)")
		jsonLog    = flag.Bool("json", false, "JSON形式でログを出力")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("camrtmp - カメラプレビューとRTMP配信の制御サーバー")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *permission != "" {
		cfg.Permission.Mode = *permission
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *jsonLog {
		cfg.Log.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatalf("設定が不正です: %v", err)
	}

	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Log.Fatalf("ロガーの設定に失敗しました: %v", err)
	}

	app, err := server.Build(cfg, logger.Log)
	if err != nil {
		logger.Log.Fatalf("アプリケーションの作成に失敗しました: %v", err)
	}

	// シグナルでキャンセルされるコンテキストを作成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	logger.Log.WithFields(logrus.Fields{
		"addr":       cfg.ServerAddress(),
		"permission": cfg.Permission.Mode,
	}).Info("camrtmp サーバーを起動します")
	if err := app.Run(ctx); err != nil {
		logger.Log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
