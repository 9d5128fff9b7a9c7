package okx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind 交易所错误分类。
type ErrorKind string

const (
	KindTransport       ErrorKind = "transport"
	KindRateLimit       ErrorKind = "rate_limit"
	KindAuth            ErrorKind = "auth"
	KindOrder           ErrorKind = "order"
	KindSystem          ErrorKind = "system"
	KindOperationFailed ErrorKind = "operation_failed"
	KindHTTP            ErrorKind = "http"
	KindDecode          ErrorKind = "decode"
	KindExchange        ErrorKind = "exchange"
)

const (
	codeSuccess               = "0"
	codeOperationFailed       = "1"
	codeBatchPartialFailure   = "2"
	CodePositionAlreadyClosed = "51169"
)

var (
	authCodes      = map[string]struct{}{"50001": {}, "50002": {}, "50004": {}}
	rateLimitCodes = map[string]struct{}{"50011": {}, "50012": {}, "50061": {}}
	systemCodes    = map[string]struct{}{"50013": {}, "50014": {}, "50026": {}}
	orderCodes     = map[string]struct{}{"51000": {}, "51001": {}, "51002": {}}

	// ErrMissingCredentials 凭证不完整。
	ErrMissingCredentials = errors.New("okx: api key / secret / passphrase required")
	// ErrAmbiguousSide 未指定方向而合约上多空同时持仓。
	ErrAmbiguousSide = errors.New("okx: both long and short positions open, close side required")
)

// classifyCode 把交易所返回码映射到错误分类；"0" 返回空串。
func classifyCode(code string) ErrorKind {
	code = strings.TrimSpace(code)
	switch code {
	case "", codeSuccess:
		return ""
	case codeOperationFailed, codeBatchPartialFailure:
		return KindOperationFailed
	case CodePositionAlreadyClosed:
		return KindOperationFailed
	}
	if _, ok := authCodes[code]; ok {
		return KindAuth
	}
	if _, ok := rateLimitCodes[code]; ok {
		return KindRateLimit
	}
	if _, ok := systemCodes[code]; ok {
		return KindSystem
	}
	if _, ok := orderCodes[code]; ok {
		return KindOrder
	}
	if n, err := strconv.Atoi(code); err == nil {
		switch {
		case n >= 50100 && n <= 50119:
			return KindAuth
		case n >= 51000 && n <= 51999:
			return KindOrder
		}
	}
	return KindExchange
}

// ExchangeError 携带 HTTP 状态、顶层 code 以及逐项 sCode，供上层区分真正失败与“已平仓”等良性结果。
type ExchangeError struct {
	Kind       ErrorKind
	Method     string
	Path       string
	HTTPStatus int
	Code       string
	Msg        string
	SubCode    string
	SubMsg     string
	Attempts   int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "okx %s %s: %s error", e.Method, e.Path, e.Kind)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " status=%d", e.HTTPStatus)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, " msg=%q", e.Msg)
	}
	if e.SubCode != "" {
		fmt.Fprintf(&b, " sCode=%s sMsg=%q", e.SubCode, e.SubMsg)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// AlreadyClosed 交易所提示仓位已不存在（良性失败）。
func (e *ExchangeError) AlreadyClosed() bool {
	return e != nil && (e.SubCode == CodePositionAlreadyClosed || e.Code == CodePositionAlreadyClosed)
}

// Retryable 传输、限频、系统繁忙类错误可重试。
func (e *ExchangeError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindTransport, KindRateLimit, KindSystem:
		return true
	}
	return false
}

// AsExchangeError errors.As 的快捷方式。
func AsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

func IsAuth(err error) bool {
	if errors.Is(err, ErrMissingCredentials) {
		return true
	}
	ee, ok := AsExchangeError(err)
	return ok && ee.Kind == KindAuth
}

func IsAlreadyClosed(err error) bool {
	ee, ok := AsExchangeError(err)
	return ok && ee.AlreadyClosed()
}

func IsRetryable(err error) bool {
	ee, ok := AsExchangeError(err)
	return ok && ee.Retryable()
}

// KindOf 返回错误分类；非交易所错误返回空串。
func KindOf(err error) ErrorKind {
	if ee, ok := AsExchangeError(err); ok {
		return ee.Kind
	}
	return ""
}
