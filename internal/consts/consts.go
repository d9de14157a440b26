package consts

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	// Webhook 签名头，hex(HMAC-SHA256(body))
	Signature = "X-Signature"

	// 结果流在 redis 中的 key
	ResultFeedKey = "signalbridge:results:recent"

	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)
