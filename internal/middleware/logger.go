package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"signalbridge/internal/consts"
	"signalbridge/pkg/logger"
)

// 日志里最多记录的请求体长度
const maxLoggedBody = 4096

func Logger(c *gin.Context) {
	// 请求前
	t := time.Now()
	reqPath := c.Request.URL.Path
	reqId := c.GetString(consts.RequestId)
	method := c.Request.Method
	ip := c.ClientIP()
	var requestBody []byte
	if c.Request.Body != nil {
		var err error
		requestBody, err = io.ReadAll(c.Request.Body)
		if err != nil {
			requestBody = []byte{}
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	}
	logged := requestBody
	if len(logged) > maxLoggedBody {
		logged = logged[:maxLoggedBody]
	}

	logger.Info("[Request Start]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("method", method),
		logger.Pair("contentType", c.ContentType()),
		logger.Pair("body", string(logged)))

	c.Next()
	// 请求后
	latency := time.Since(t)
	logger.Info("[Request End]",
		logger.Pair(consts.RequestId, reqId),
		logger.Pair("host", ip),
		logger.Pair("path", reqPath),
		logger.Pair("status", c.Writer.Status()),
		logger.Pair("cost", latency))
}
