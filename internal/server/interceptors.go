package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

// ErrPanicRecovered indicates a PIM API handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in pim api handler")

// LoggingInterceptorOption installs LoggingInterceptor on a handler.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(LoggingInterceptor(logger))
}

// RecoveryInterceptorOption installs RecoveryInterceptor on a handler.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(RecoveryInterceptor(logger))
}

// callAttrs returns the procedure and, for requests addressing one
// instance, its VRF name.
func callAttrs(req connect.AnyRequest) []slog.Attr {
	attrs := []slog.Attr{slog.String("procedure", req.Spec().Procedure)}

	var vrf string
	switch msg := req.Any().(type) {
	case *pimapi.GetInstanceRequest:
		vrf = msg.Name
	case *pimapi.SetSSMRangeRequest:
		vrf = msg.VRF
	case *pimapi.ClassifyGroupRequest:
		vrf = msg.VRF
	}
	if vrf != "" {
		attrs = append(attrs, slog.String("vrf", vrf))
	}
	return attrs
}

// errorLevel logs requests naming an unknown instance or a malformed
// group at Info; they are operator typos, not daemon faults.
func errorLevel(code connect.Code) slog.Level {
	switch code {
	case connect.CodeNotFound, connect.CodeInvalidArgument:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// LoggingInterceptor returns a ConnectRPC unary interceptor that logs every
// PIM API call with its procedure, target VRF and duration.
//
// Successful calls are logged at Debug since pimctl monitor polls.
// Failures carry the Connect code.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := append(callAttrs(req), slog.Duration("duration", time.Since(start)))
			if err == nil {
				logger.LogAttrs(ctx, slog.LevelDebug, "pim api call", attrs...)
				return resp, nil
			}

			code := connect.CodeOf(err)
			attrs = append(attrs,
				slog.String("code", code.String()),
				slog.String("error", err.Error()),
			)
			logger.LogAttrs(ctx, errorLevel(code), "pim api call failed", attrs...)
			return resp, err
		}
	}
}

// RecoveryInterceptor returns a ConnectRPC unary interceptor that turns a
// handler panic into CodeInternal and logs it with the stack.
func RecoveryInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				attrs := append(callAttrs(req),
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
				logger.LogAttrs(ctx, slog.LevelError, "pim api handler panicked", attrs...)

				retErr = connect.NewError(connect.CodeInternal,
					fmt.Errorf("%s: %w", req.Spec().Procedure, ErrPanicRecovered))
			}()

			return next(ctx, req)
		}
	}
}
