package dataset

import "fmt"

// LoadError 数据集无法解析 (编码, 结构, 格式错误)
type LoadError struct {
	Source string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "failed to load dataset"
	if e.Source != "" {
		msg += fmt.Sprintf(" %q", e.Source)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// NotLoadedError 会话中没有可用数据集. Cause 为最近一次失败的加载.
type NotLoadedError struct {
	Cause error
}

func (e *NotLoadedError) Error() string {
	if e.Cause != nil {
		return "no dataset loaded: " + e.Cause.Error()
	}
	return "no dataset loaded"
}

func (e *NotLoadedError) Unwrap() error { return e.Cause }

type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found", e.Column)
}

type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data: " + e.Reason
}

type InvalidParameterError struct {
	Name   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}
