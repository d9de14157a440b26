package errors

import (
	"errors"

	"signalbridge/pkg/errors/ecode"
)

// Err 带错误码的接口错误
type Err struct {
	Code    int
	Message string
	cause   error
}

func (e *Err) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Err) Unwrap() error { return e.cause }

func New(code int, msg string) *Err {
	return &Err{Code: code, Message: msg}
}

// Wrap 给底层错误附加错误码和提示
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &Err{Code: code, Message: msg, cause: err}
}

// DecodeErr 解析出错误码和提示信息，nil 视为成功
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, "success"
	}
	var e *Err
	if errors.As(err, &e) {
		return e.Code, e.Error()
	}
	return ecode.ServerErr, err.Error()
}
