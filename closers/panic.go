package closers

import (
	"context"
	"errors"
	"io"

	"github.com/tidepay/wechatpay-go/logging"
)

// Panic calls Close on the specified closer, panicking on error
func Panic(ctx context.Context, c io.Closer) {
	logger := logging.Logger(ctx, "closers.Panic")
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Error().Err(err).Msg("error attempting to close")
		if errors.Is(err, context.Canceled) || err.Error() == "context canceled" {
			// a timed out request context manifests as a close error here
			return
		}
		panic(err.Error())
	}
}
