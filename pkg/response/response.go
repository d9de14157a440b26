package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signalbridge/internal/consts"
	"signalbridge/pkg/errors"
	"signalbridge/pkg/errors/ecode"
)

// ApiResponse 响应给客户端的消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据
}

// JSON 按错误码选择 http 状态码
func JSON(c *gin.Context, err error, data interface{}) {
	code, message := errors.DecodeErr(err)
	c.JSON(HTTPStatus(code), ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}

// HTTPStatus 错误码到 http 状态码
func HTTPStatus(code int) int {
	switch code {
	case ecode.Success:
		return http.StatusOK
	case ecode.ParamErr, ecode.MalformedSignalErr:
		return http.StatusBadRequest
	case ecode.RequireAuthErr:
		return http.StatusUnauthorized
	case ecode.NotFoundErr:
		return http.StatusNotFound
	case ecode.TooManyReqErr:
		return http.StatusTooManyRequests
	case ecode.FeedUnavailableErr:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// RequireAuthErr 签名校验失败，返回401
func RequireAuthErr(c *gin.Context, err error) {
	message := "unknown error."
	if err != nil {
		message = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.RequireAuthErr,
		Message:   "invalid signature: " + message,
	})
}

// TooManyRequests 请求频繁，返回429
func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.TooManyReqErr,
		Message:   "The request is too frequent. Please try again later.",
	})
}
