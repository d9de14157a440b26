package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateSignal       = errors.New("duplicate signal")
	ErrLiquidationIncomplete = errors.New("liquidation incomplete")
	ErrBracketRejected       = errors.New("bracket rejected")
	ErrMalformedSignal       = errors.New("malformed signal")
)

// MalformedSignalError 信号字段缺失或价格不合法
type MalformedSignalError struct {
	Problems []string
}

func (e *MalformedSignalError) Error() string {
	return "malformed signal: " + strings.Join(e.Problems, "; ")
}

func (e *MalformedSignalError) Is(target error) bool {
	return target == ErrMalformedSignal
}

type BrokerErrorKind string

const (
	// 超时、网络错误、5xx、限流，结果未知
	KindTransport BrokerErrorKind = "transport"
	// 券商明确拒绝
	KindRejected BrokerErrorKind = "rejected"
)

// BrokerError 券商调用失败，由调用方决定是否计入尝试次数
type BrokerError struct {
	Op     string
	Kind   BrokerErrorKind
	Status int
	Reason string
	Err    error
}

func (e *BrokerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "broker %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *BrokerError) Unwrap() error { return e.Err }

func NewTransportError(op string, err error) *BrokerError {
	return &BrokerError{Op: op, Kind: KindTransport, Err: err}
}

func NewRejectedError(op string, status int, reason string) *BrokerError {
	return &BrokerError{Op: op, Kind: KindRejected, Status: status, Reason: reason}
}

func IsTransport(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Kind == KindTransport
}

func IsRejected(err error) bool {
	var be *BrokerError
	return errors.As(err, &be) && be.Kind == KindRejected
}
