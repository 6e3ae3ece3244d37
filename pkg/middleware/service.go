package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceTokenHeader はサービス間呼び出しで共有トークンを送るヘッダー。
const ServiceTokenHeader = "X-Service-Token"

// ServiceAuth はサービス間APIを保護するGinミドルウェアを返す。
// X-Service-Tokenヘッダーが設定済みのトークンと一致しない場合は401を返す。
// ユーザー向けのJWTはこのミドルウェアを通過できない。
func ServiceAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(ServiceTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "サービストークンが無効です",
			})
			return
		}
		c.Next()
	}
}
