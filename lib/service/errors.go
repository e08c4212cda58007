// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"fmt"
)

// Code is the machine-readable failure class carried in a Response.
type Code string

const (
	CodeInvalidRequest       Code = "invalid_request"
	CodeUnauthenticated      Code = "unauthenticated"
	CodeForbidden            Code = "forbidden"
	CodeNotFound             Code = "not_found"
	CodeSessionLimitExceeded Code = "session_limit_exceeded"
	CodeKeyUnwrap            Code = "key_unwrap"
	CodeConfiguration        Code = "configuration"
	CodeInternal             Code = "internal"
)

// ErrForbidden marks an authenticated caller acting outside its
// entitlements.
var ErrForbidden = errors.New("forbidden")

// Error is a handler failure with a protocol code attached.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a coded error from a format string.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches code to err, keeping err matchable with errors.Is.
func WrapError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	return CodeInternal
}
