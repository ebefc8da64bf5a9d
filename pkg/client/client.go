// Package client implements the FSGate wire protocol for the fsgatectl CLI.
package client

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/veldtlabs/fsgate/pkg/protocol"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// Client is one authenticated connection to an FSGate server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	// Role and ServerRoot are populated by the welcome reply.
	Role       string
	ServerRoot string
}

// Dial connects to addr, retrying with capped exponential backoff until the
// connection succeeds or ctx is cancelled.
func Dial(ctx context.Context, addr string) (*Client, error) {
	backoff := initialBackoff
	var dialer net.Dialer

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
		}

		fmt.Fprintf(os.Stderr, "connect to %s failed (%v), retrying in %s\n", addr, err, backoff)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up connecting to %s: %w", addr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Handshake authenticates the session and records the granted role.
func (c *Client) Handshake(username, token string) error {
	if err := c.send(protocol.Handshake{Username: username, Token: token}); err != nil {
		return err
	}

	var welcome protocol.Welcome
	if err := c.recv(&welcome); err != nil {
		return err
	}
	if !welcome.OK {
		return fmt.Errorf("server refused handshake")
	}

	c.Role = welcome.Role
	c.ServerRoot = welcome.ServerRoot
	return nil
}

// Do sends one command and returns the structured reply. A reply with
// ok=false is returned as a Response, not an error; transport failures are
// errors.
func (c *Client) Do(cmd string, args ...string) (protocol.Response, error) {
	if err := c.send(protocol.Request{Cmd: cmd, Args: args}); err != nil {
		return protocol.Response{}, err
	}

	var resp protocol.Response
	if err := c.recv(&resp); err != nil {
		return protocol.Response{}, err
	}
	return resp, nil
}

// Upload reads localPath and sends it as a base64 payload to remotePath.
func (c *Client) Upload(localPath, remotePath string) (protocol.Response, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	return c.Do("upload", remotePath, base64.StdEncoding.EncodeToString(data))
}

// Download fetches remotePath and writes the decoded bytes to localPath.
// When localPath is empty, the server-reported filename is used in the
// current directory.
func (c *Client) Download(remotePath, localPath string) (string, error) {
	resp, err := c.Do("download", remotePath)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("%s", resp.Error)
	}

	payload, err := decodePayload(resp.Data)
	if err != nil {
		return "", err
	}

	if localPath == "" {
		localPath = filepath.Base(payload.Name)
	}
	data, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return "", fmt.Errorf("server sent invalid base64: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return localPath, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func (c *Client) recv(v any) error {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("connection lost: %w", err)
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		return fmt.Errorf("failed to parse server reply: %w", err)
	}
	return nil
}

// decodePayload re-decodes the generic reply data into a FilePayload.
func decodePayload(data any) (protocol.FilePayload, error) {
	var payload protocol.FilePayload
	raw, err := json.Marshal(data)
	if err != nil {
		return payload, fmt.Errorf("unexpected download payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("unexpected download payload: %w", err)
	}
	return payload, nil
}
