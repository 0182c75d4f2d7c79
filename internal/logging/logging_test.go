package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/nalgeon/be"
)

func TestLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")
	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	be.Equal(t, len(lines), 1)
	var rec map[string]any
	be.Err(t, json.Unmarshal([]byte(lines[0]), &rec), nil)
	be.Equal(t, rec["message"], "shown")
	be.Equal(t, rec["k"], "v")
	be.Equal(t, rec["service"], "replydraft")
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "json")
	log.Debug().Msg("debug")
	log.Info().Msg("info")
	be.True(t, !strings.Contains(buf.String(), `"debug"`))
	be.True(t, strings.Contains(buf.String(), `"info"`))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "info", "json")))
	r.GET("/x/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x/1", nil))

	var rec map[string]any
	be.Err(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec), nil)
	be.Equal(t, rec["path"], "/x/:id")
	be.Equal(t, rec["status"], any(float64(http.StatusTeapot)))
	be.Equal(t, rec["level"], "warn")
}
