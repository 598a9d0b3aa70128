package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"camrtmp/internal/config"
	"camrtmp/internal/logger"
	"camrtmp/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("CAMRTMP_CONFIG"))
	if err != nil {
		logger.Log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Log.Fatalf("ロガーの設定に失敗しました: %v", err)
	}

	// アプリケーションを組み立てる
	app, err := server.Build(cfg, logger.Log)
	if err != nil {
		logger.Log.Fatalf("アプリケーションの作成に失敗しました: %v", err)
	}

	// シグナルでキャンセルされるコンテキスト
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// サーバーを起動
	if err := app.Run(ctx); err != nil {
		logger.Log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
