package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// issuer はこのサービスが発行するトークンのiss。
const issuer = "docnotify"

// contextKeyUserID は検証済みユーザーIDを格納するGinコンテキストのキー。
const contextKeyUserID = "user_id"

// JWTClaims はJWTトークンのクレーム。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。通知の宛先と所有者の判定に使う。
	UserID string `json:"user_id"`
}

// GenerateJWT はユーザーIDからHS256で署名したトークンを生成する。
// 本番では認証サービスが発行するため、ローカル実行とテストで使用する。
func GenerateJWT(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		UserID: userID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ErrInvalidToken はトークンの署名・有効期限・クレームの検証に失敗したことを示す。
var ErrInvalidToken = errors.New("トークンが無効です")

// ParseToken はHS256で署名されたトークンを検証し、クレームを返す。
// user_idクレームが空のトークンは ErrInvalidToken として扱う。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth はAuthorizationヘッダーのベアラートークンを検証するGinミドルウェアを返す。
// 検証に成功するとコンテキストにユーザーIDを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearerトークンが必要です",
			})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetUserID はGinコンテキストから認証済みユーザーIDを取得する。
// JWTAuthを通過していない場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
