// Package protocol defines the newline-delimited JSON wire format shared by
// the FSGate server and client.
//
// Every message is one self-describing JSON object per line. Requests that
// fail to parse as JSON fall back to whitespace tokenization, so a plain
// "ping" line and {"cmd":"ping"} are equivalent on the wire.
package protocol

import (
	"encoding/json"
	"strings"
)

// Handshake is the first line a client sends after connecting.
type Handshake struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Welcome is the server's reply to the handshake.
type Welcome struct {
	OK         bool   `json:"ok"`
	Role       string `json:"role"`
	ServerRoot string `json:"server_root"`
}

// Request is one client command.
type Request struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

// Response is the server's reply to one request line.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ListEntry describes one immediate child in a list reply.
type ListEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FilePayload carries file bytes as a transport-safe base64 string.
type FilePayload struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

// FileInfo is the info command reply.
type FileInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

// ParseHandshake interprets the first line of a connection. It accepts the
// JSON form, then the legacy "AUTH <user> <token>" form. The boolean is
// false when neither parses; callers downgrade such sessions to guest
// rather than rejecting them.
func ParseHandshake(line string) (Handshake, bool) {
	line = strings.TrimSpace(line)

	var hs Handshake
	if err := json.Unmarshal([]byte(line), &hs); err == nil && hs.Username != "" {
		return hs, true
	}

	fields := strings.Fields(line)
	if len(fields) == 3 && strings.EqualFold(fields[0], "AUTH") {
		return Handshake{Username: fields[1], Token: fields[2]}, true
	}

	return Handshake{}, false
}

// ParseRequest interprets one request line. JSON objects are preferred; any
// other line is split on whitespace with the first token as the command.
// The fallback applies uniformly, so free text that is not a recognized
// command produces an unknown-command error downstream.
func ParseRequest(line string) Request {
	line = strings.TrimSpace(line)

	var req Request
	if err := json.Unmarshal([]byte(line), &req); err == nil && req.Cmd != "" {
		return req
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}
	}
	return Request{Cmd: fields[0], Args: fields[1:]}
}

// Encode marshals v followed by the line terminator.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
