package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"quotecast/internal/storage"
	logx "quotecast/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			logger := req.logger(log)
			fields := []logx.Field{logx.Int("args", len(req.Args)), logx.Duration("dur", d)}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// AuditSink stores one record per handled command.
type AuditSink interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// MWAudit records every handled command. Audit failures are logged, never returned.
func MWAudit(sink AuditSink, log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if sink == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)

			e := storage.AuditEntry{
				At:      start,
				ActorID: strconv.FormatInt(req.FromID, 10),
				ChatID:  strconv.FormatInt(req.ChatID, 10),
				Command: req.Command,
				Args:    req.ArgText,
				OK:      err == nil,
				TookMS:  time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			// The handler context may already be expired.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := sink.AppendAudit(actx, e); aerr != nil {
				req.logger(log).Warn("audit write failed", logx.Err(aerr))
			}
			return err
		}
	}
}
