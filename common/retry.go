package common

import (
	"context"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Error messages from nodes and gateways that go away on their own.
var transientErrors = []string{
	"invalid json response",
	"handle request error",
	"invalid json rpc response",
	"nonce too low",
	"was not mined within 750 seconds",
	"the transaction is still not confirmed after 20 attempts",
	"replacement transaction underpriced",
	"client network socket disconnected before secure tls connection was established",
	"connection refused",
	"connection reset by peer",
	"i/o timeout",
	"unexpected eof",
	"503 service unavailable",
	"502 bad gateway",
}

const DefaultRetryDelay = 10 * time.Second

func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry calls fn until it succeeds, fails with a non-transient error or
// attempts are used up. The last error is returned.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsTransientError(err) {
			return err
		}
		logger.WithFields(logger.Fields{
			"attempt": i + 1,
			"error":   err,
		}).Warn("transient error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
