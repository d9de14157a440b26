package ecode

// 接口错误码，0 表示成功
const (
	Success = 0

	ParamErr       = 10001
	RequireAuthErr = 10002
	NotFoundErr    = 10004
	TooManyReqErr  = 10029

	ServerErr = 20001

	MalformedSignalErr = 30001
	BrokerErr          = 30002
	FeedUnavailableErr = 30003
)
