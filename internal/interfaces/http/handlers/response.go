package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/qwengate/qwengate/pkg/errors"
)

// writeError maps any failure onto the OpenAI error envelope:
// {"error": {"message", "type", "param", "code"}} with the status code
// derived from the error kind.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	appErr, ok := domainErrors.AsApp(err)
	if !ok {
		appErr = domainErrors.NewInternal("internal error", err)
	}

	if appErr.Kind == domainErrors.KindInternal {
		logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	body := gin.H{
		"message": appErr.Message,
		"type":    appErr.Kind.OpenAIType(),
		"code":    appErr.Kind.OpenAICode(),
	}
	if appErr.Param != "" {
		body["param"] = appErr.Param
	}

	c.JSON(appErr.Kind.HTTPStatus(), gin.H{"error": body})
}

// pagination parses limit/offset query params with the audit surface
// defaults: limit 50, cap 500.
func pagination(c *gin.Context) (limit, offset int) {
	limit = intQuery(c, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset = intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
