package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "castbot/pkg/logx"
)

// HandlerFunc handles one routed update.
type HandlerFunc func(ctx context.Context, req *Request) error

// Successful requests slower than this are logged at info level.
const slowRequest = 750 * time.Millisecond

// guard runs h under timeout and turns a panic into an error. Every request
// ends in exactly one log line.
func guard(h HandlerFunc, timeout time.Duration, fallback logx.Logger) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		log := fallback
		if !req.Logger.IsZero() {
			log = req.Logger
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
			logOutcome(log, req, time.Since(start), err)
		}()
		return h(ctx, req)
	}
}

func logOutcome(log logx.Logger, req *Request, took time.Duration, err error) {
	fields := []logx.Field{
		logx.String("kind", string(req.Update.Kind)),
		logx.Bool("owner", req.Owner),
		logx.Duration("took", took),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", fields...)
	case err != nil:
		log.Warn("request failed", append(fields, logx.Err(err))...)
	case took >= slowRequest:
		log.Info("slow request", fields...)
	default:
		log.Debug("request ok", fields...)
	}
}
