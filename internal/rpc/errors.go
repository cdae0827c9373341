/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RemoteError is a failure reported by the buoy in a call result.
type RemoteError struct {
	Call    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Call, e.Message)
}

// IsRemote reports whether err is a RemoteError carrying message.
func IsRemote(err error, message string) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Message == message
}

// DecodeError means a push carried params that do not match its schema.
type DecodeError struct {
	Push PushName
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s params: %v", e.Push, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// remoteError inspects a result body for the {error, message} shape. The
// error field is either a flag (true) with the text in message, or the text
// itself.
func remoteError(call string, raw json.RawMessage) *RemoteError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var body errorBody
	if err := json.Unmarshal(trimmed, &body); err != nil || len(body.Error) == 0 {
		return nil
	}

	var flag bool
	if err := json.Unmarshal(body.Error, &flag); err == nil {
		if !flag {
			return nil
		}
		msg := body.Message
		if msg == "" {
			msg = "unknown error"
		}
		return &RemoteError{Call: call, Message: msg}
	}

	var text string
	if err := json.Unmarshal(body.Error, &text); err == nil {
		if text == "" {
			return nil
		}
		if body.Message != "" {
			text = body.Message
		}
		return &RemoteError{Call: call, Message: text}
	}
	return nil
}
