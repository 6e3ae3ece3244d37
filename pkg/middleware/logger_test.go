package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestLogger はリクエストログのレベルとフィールドを検証する。
func TestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantLevel logrus.Level
	}{
		{name: "2xxはInfoで記録されること", status: http.StatusOK, wantLevel: logrus.InfoLevel},
		{name: "4xxはWarnで記録されること", status: http.StatusNotFound, wantLevel: logrus.WarnLevel},
		{name: "5xxはErrorで記録されること", status: http.StatusInternalServerError, wantLevel: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, hook := test.NewNullLogger()
			router := gin.New()
			router.Use(Logger(logger))
			router.GET("/notifications", func(c *gin.Context) {
				c.Set("user_id", "user-1")
				c.Status(tt.status)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications", nil))

			entry := hook.LastEntry()
			if entry == nil {
				t.Fatal("ログが記録されていない")
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", entry.Level, tt.wantLevel)
			}
			if entry.Data["status"] != tt.status {
				t.Errorf("status = %v, want %d", entry.Data["status"], tt.status)
			}
			if entry.Data["path"] != "/notifications" {
				t.Errorf("path = %v", entry.Data["path"])
			}
			if entry.Data["user_id"] != "user-1" {
				t.Errorf("user_id = %v, want user-1", entry.Data["user_id"])
			}
		})
	}
}
