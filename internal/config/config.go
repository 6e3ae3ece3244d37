// Package config はサービスの設定をファイルと環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix は環境変数の接頭辞。例: DOCNOTIFY_DATABASE_PATH
const envPrefix = "DOCNOTIFY"

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
}

// DatabaseConfig はSQLiteの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。":memory:" も指定できる。
	Path string `mapstructure:"path"`
}

// AuthConfig はJWT認証の設定。
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// ServiceToken は他サービスが /api/v1/internal を呼び出すときに送る共有トークン。
	ServiceToken string `mapstructure:"service_token"`
}

// DocumentsConfig はドキュメントサービスへの接続設定。
type DocumentsConfig struct {
	// URL はドキュメントサービスのベースURL。所有者の解決に使用する。
	URL string `mapstructure:"url"`
}

// CORSConfig はフロントエンドからのクロスオリジンアクセスの設定。
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RealtimeConfig はWebSocket配信の設定。
type RealtimeConfig struct {
	// SendBuffer は接続ごとの送信キューの長さ。
	SendBuffer int `mapstructure:"send_buffer"`
	// WriteTimeout は1メッセージの書き込み期限。
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval はPingフレームの送信間隔。
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config はサービス全体の設定。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Documents DocumentsConfig `mapstructure:"documents"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Log       LogConfig       `mapstructure:"log"`
}

// setDefaults はすべてのキーのデフォルト値を設定する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8086")
	v.SetDefault("database.path", "/data/notification.db")
	v.SetDefault("auth.jwt_secret", "dev-secret-key")
	v.SetDefault("auth.service_token", "dev-service-token")
	v.SetDefault("documents.url", "http://localhost:8081")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load は設定ファイルと環境変数から設定を読み込む。
// pathが空、またはファイルが存在しない場合はデフォルト値と環境変数のみを使用する。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 既存のデプロイで使っている環境変数も受け付ける
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}
	if err := v.BindEnv("auth.jwt_secret", envPrefix+"_AUTH_JWT_SECRET", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}
	if err := v.BindEnv("auth.service_token", envPrefix+"_AUTH_SERVICE_TOKEN", "SERVICE_TOKEN"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.portが空です")
	}
	if c.Database.Path == "" {
		return errors.New("database.pathが空です")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secretが空です")
	}
	if c.Auth.ServiceToken == "" {
		return errors.New("auth.service_tokenが空です")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_bufferは正の値である必要があります: %d", c.Realtime.SendBuffer)
	}
	if c.Realtime.WriteTimeout <= 0 || c.Realtime.PingInterval <= 0 {
		return errors.New("realtime.write_timeoutとrealtime.ping_intervalは正の値である必要があります")
	}
	return nil
}
