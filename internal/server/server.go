// Package server は通知サービスのHTTP APIとWebSocketエンドポイントを組み立てる。
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docnotify/internal/config"
	"github.com/nao1215/docnotify/internal/metrics"
	metricsdb "github.com/nao1215/docnotify/internal/metrics/db"
	"github.com/nao1215/docnotify/internal/notification"
	notificationdb "github.com/nao1215/docnotify/internal/notification/db"
	"github.com/nao1215/docnotify/internal/owner"
	"github.com/nao1215/docnotify/internal/realtime"
	"github.com/nao1215/docnotify/internal/storage"
	"github.com/nao1215/docnotify/pkg/event"
	"github.com/nao1215/docnotify/pkg/middleware"
)

// shutdownTimeout は停止時に処理中のリクエストを待つ上限。
const shutdownTimeout = 10 * time.Second

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sqlx.DB
	// bus はドメインイベントのプロセス内バス。
	bus *event.Bus
	// notifications は通知の作成・配信・既読管理を行う。
	notifications *notification.Service
	// metrics はドキュメントごとのメトリクスを集計する。
	metrics *metrics.Aggregator
	// realtime はWebSocket接続を管理する。
	realtime *realtime.Registry
	// logger は構造化ログの出力先。
	logger logrus.FieldLogger
}

// NewServer は設定からデータベースと各コンポーネントを初期化し、サーバーを生成する。
func NewServer(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Server, error) {
	db, err := storage.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	s := newServer(db, owner.NewHTTPResolver(cfg.Documents.URL), cfg, logger)
	s.router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	s.setupRoutes(middleware.JWTAuth(cfg.Auth.JWTSecret), middleware.ServiceAuth(cfg.Auth.ServiceToken))
	return s, nil
}

// newServer はルーティング以外のコンポーネントを組み立て、イベントバスに接続する。
func newServer(db *sqlx.DB, owners owner.Resolver, cfg *config.Config, logger logrus.FieldLogger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger.WithField("component", "http")))

	bus := event.NewBus(logger)
	notifications := notification.NewService(notificationdb.New(db), owners, logger)
	notifications.Attach(bus)
	aggregator := metrics.NewAggregator(metricsdb.New(db), logger)
	aggregator.Attach(bus)

	registry := realtime.NewRegistry(notifications, realtime.Options{
		SendBuffer:     cfg.Realtime.SendBuffer,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Authenticate: func(token string) (string, error) {
			claims, err := middleware.ParseToken(cfg.Auth.JWTSecret, token)
			if err != nil {
				return "", err
			}
			return claims.UserID, nil
		},
	}, logger)

	return &Server{
		router:        router,
		port:          cfg.Server.Port,
		db:            db,
		bus:           bus,
		notifications: notifications,
		metrics:       aggregator,
		realtime:      registry,
		logger:        logger,
	}
}

// Bus はサーバーが使用するイベントバスを返す。同一プロセスのプロデューサーが発行に使う。
func (s *Server) Bus() *event.Bus {
	return s.bus
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.port).Info("通知サービスを起動します")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
// authはユーザー向けAPIに、serviceAuthは他サービス向けの/api/v1/internalに適用する。
func (s *Server) setupRoutes(auth, serviceAuth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	{
		notifications := api.Group("/notifications", auth)
		{
			// 通知一覧取得
			notifications.GET("", s.handleListNotifications())
			// 未読数取得
			notifications.GET("/unread-count", s.handleUnreadCount())
			// 既読化
			notifications.PATCH("/:id/read", s.handleMarkAsRead())
			// 一括既読化
			notifications.POST("/mark-all-read", s.handleMarkAllAsRead())
		}

		metricsGroup := api.Group("/metrics", auth)
		{
			metricsGroup.GET("/:docId", s.handleGetMetrics())
			metricsGroup.PUT("/:docId", s.handleUpdateMetrics())
			metricsGroup.DELETE("/:docId", s.handleResetMetrics())
		}

		// 他サービスからの呼び出し用。ユーザーのJWTでは呼び出せない
		internal := api.Group("/internal", serviceAuth)
		{
			internal.POST("/events", s.handlePublishEvent())
			internal.POST("/notifications", s.handleCreateNotification())
			internal.POST("/broadcast/:userId", s.handleBroadcast())
		}
	}

	// WebSocket接続。/ws/{userId}?token=...
	s.router.GET("/ws/*path", s.realtime.Handler())

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
}
