package chain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrNotConnected = errors.New("chain client not connected")
	ErrInvalidRange = errors.New("invalid block range")
)

// Class labels an error as transient (worth retrying on the next cycle) or terminal.
type Class string

const (
	ClassTransient Class = "transient"
	ClassTerminal  Class = "terminal"
)

// Classify inspects err for timeouts, JSON-RPC server codes and well-known
// network failure messages.
func Classify(err error) Class {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidRange) {
		return ClassTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotConnected) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		// -32005 limit exceeded, -32603 internal error, -32000..-32099 server range
		if code == -32603 || (code <= -32000 && code >= -32099) {
			return ClassTransient
		}
		return ClassTerminal
	}

	msg := strings.ToLower(err.Error())
	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return ClassTransient
		}
	}
	return ClassTerminal
}

// IsTransient reports whether err is expected to clear on retry.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

var transientTokens = []string{
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"too many requests",
	"rate limit",
	"http status 429",
	"http status 502",
	"http status 503",
	"http status 504",
}
