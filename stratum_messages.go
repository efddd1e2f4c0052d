package main

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// stratumEnvelope is the union of fields an inbound frame may carry. Params,
// result and error stay raw until the codec knows which shape to expect.
type stratumEnvelope struct {
	ID     any                `json:"id"`
	Method string             `json:"method"`
	Params stdjson.RawMessage `json:"params"`
	Result stdjson.RawMessage `json:"result"`
	Error  stdjson.RawMessage `json:"error"`
}

type stratumRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// outboundFrame is a newline-terminated request ready for the socket.
type outboundFrame struct {
	ID     uint64
	Method string
	Data   []byte
}

// inboundMessage is the closed set of messages a codec produces. Everything
// downstream of Decode switches on the concrete type.
type inboundMessage interface {
	messageKind() string
}

// subscribedMsg carries the session extranonce from mining.subscribe or
// mining.set_extranonce.
type subscribedMsg struct {
	ExtraNonce1     string
	ExtraNonce2Size int
}

// authorizedMsg is the verdict on login / mining.authorize.
type authorizedMsg struct {
	OK     bool
	Reason string
}

type jobMsg struct {
	Job *Job
	// FromLogin marks the first job piggybacked on a login reply, which
	// also means the login was accepted.
	FromLogin bool
}

type difficultyMsg struct {
	Value float64
}

type shareAcceptedMsg struct {
	RequestID uint64
}

type shareRejectedMsg struct {
	RequestID uint64
	Code      int
	Reason    string
}

// otherMsg is anything the engine does not act on: keepalive replies,
// suppressed benign errors, unknown server calls.
type otherMsg struct {
	Method string
	Raw    []byte
}

func (subscribedMsg) messageKind() string    { return "subscribed" }
func (authorizedMsg) messageKind() string    { return "authorized" }
func (jobMsg) messageKind() string           { return "job" }
func (difficultyMsg) messageKind() string    { return "difficulty" }
func (shareAcceptedMsg) messageKind() string { return "share_accepted" }
func (shareRejectedMsg) messageKind() string { return "share_rejected" }
func (otherMsg) messageKind() string         { return "other" }

// parseRequestID normalises a JSON-RPC id. Absent and null ids report false.
func parseRequestID(v any) (uint64, bool) {
	switch id := v.(type) {
	case nil:
		return 0, false
	case float64:
		if id < 0 || id != math.Trunc(id) {
			return 0, false
		}
		return uint64(id), true
	case int64:
		if id < 0 {
			return 0, false
		}
		return uint64(id), true
	case stdjson.Number:
		n, err := strconv.ParseUint(string(id), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func isJSONNull(raw stdjson.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseStratumError accepts both error encodings seen in the wild:
// [code, "message", traceback] and {"code": n, "message": "..."}.
func parseStratumError(raw stdjson.RawMessage) (code int, msg string, ok bool) {
	if isJSONNull(raw) {
		return 0, "", false
	}
	var arr []any
	if err := fastJSONUnmarshal(raw, &arr); err == nil {
		if len(arr) > 0 {
			if f, isNum := arr[0].(float64); isNum {
				code = int(f)
			}
		}
		if len(arr) > 1 {
			msg = fmt.Sprint(arr[1])
		}
		return code, msg, true
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := fastJSONUnmarshal(raw, &obj); err == nil {
		return obj.Code, obj.Message, true
	}
	var s string
	if err := fastJSONUnmarshal(raw, &s); err == nil {
		return 0, s, true
	}
	return 0, string(raw), true
}

type replyVerdict int

const (
	verdictUnknown replyVerdict = iota
	verdictAccept
	verdictReject
)

// parseVerdict interprets a plain accept/reject result: bare true/false, or
// an object with status "OK".
func parseVerdict(raw stdjson.RawMessage) replyVerdict {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(trimmed, []byte("true")):
		return verdictAccept
	case bytes.Equal(trimmed, []byte("false")):
		return verdictReject
	case len(trimmed) > 0 && trimmed[0] == '{':
		var obj struct {
			Status string `json:"status"`
		}
		if err := fastJSONUnmarshal(trimmed, &obj); err != nil {
			return verdictUnknown
		}
		if strings.EqualFold(obj.Status, "OK") {
			return verdictAccept
		}
		if obj.Status != "" {
			return verdictReject
		}
	}
	return verdictUnknown
}
