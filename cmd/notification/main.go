// 通知サービスのエントリポイント。
// ドキュメント更新と整合性チェックのイベントから通知を生成・保存し、
// WebSocketで接続中のユーザーへ配信する。ドキュメントごとのメトリクスも集計する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DavidGamba/go-getoptions"

	"github.com/nao1215/docnotify/internal/config"
	"github.com/nao1215/docnotify/internal/server"
	"github.com/nao1215/docnotify/pkg/logging"
)

// options はコマンドライン引数の値。
type options struct {
	// Config は設定ファイルのパス。存在しない場合はデフォルト値と環境変数を使う。
	Config string
}

func parseCommandLine() *options {
	values := &options{}
	opt := getoptions.New()

	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&values.Config, "config", "/etc/docnotify/config.yaml",
		opt.Alias("c"),
		opt.Description("設定ファイルのパス"))

	_, err := opt.Parse(os.Args[1:])
	if opt.Called("help") {
		fmt.Fprint(os.Stderr, opt.Help())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		fmt.Fprint(os.Stderr, opt.Help(getoptions.HelpSynopsis))
		os.Exit(2)
	}
	return values
}

func main() {
	opts := parseCommandLine()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの初期化に失敗: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("通知サーバーの初期化に失敗")
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.WithError(err).Error("通知サービスが異常終了しました")
		stop()
		srv.Close()
		os.Exit(1)
	}
}
