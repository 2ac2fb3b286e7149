// Package apperror 定义了跨越 HTTP 边界时使用的有限错误分类。
// 所有失败都会被归入其中一类，对外只暴露该类别的净化消息。
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误分类。
type Kind string

const (
	KindConfiguration Kind = "configuration_error"
	KindUpstream      Kind = "upstream_error"
	KindInvalidInput  Kind = "invalid_input"
	KindInternal      Kind = "internal_error"
)

// publicMessages 是每个分类对外展示的固定文案。
var publicMessages = map[Kind]string{
	KindConfiguration: "The service is not configured correctly.",
	KindUpstream:      "An upstream provider failed to answer. Please try again later.",
	KindInvalidInput:  "The request is invalid.",
	KindInternal:      "An internal error occurred.",
}

// Error 携带分类、可展示的消息以及底层错误。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建一个不包装底层错误的分类错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 用给定分类包装 err；err 为 nil 时返回 nil。
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func Configuration(message string, err error) error {
	return &Error{Kind: KindConfiguration, Message: message, Err: err}
}

func Upstream(message string, err error) error {
	return &Error{Kind: KindUpstream, Message: message, Err: err}
}

func InvalidInput(message string) error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func Internal(message string, err error) error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf 返回 err 链上第一个分类错误的分类，未分类的错误视为内部错误。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus 把分类映射为 HTTP 状态码。
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	case KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以安全展示给调用方的消息。
// 输入校验类错误的消息由本服务自己生成，原样返回；其它分类只返回固定文案。
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind == KindInvalidInput && appErr.Message != "" {
		return appErr.Message
	}
	return publicMessages[KindOf(err)]
}
