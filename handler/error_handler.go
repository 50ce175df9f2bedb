package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/promptr-app/promptr/pkg/binder"
	"github.com/promptr-app/promptr/pkg/logger"
)

// Classifier maps a domain error to an HTTPError. ok is false when the
// classifier does not recognize err.
type Classifier func(err error) (HTTPError, bool)

// classifyError resolves err to an HTTPError. Anything unrecognized is an
// internal error and never exposes its message.
func classifyError(err error, classifiers []Classifier) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	for _, c := range classifiers {
		if e, ok := c(err); ok {
			return e
		}
	}
	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType):
		return ErrUnsupportedMedia
	case errors.Is(err, binder.ErrInvalidJSON), errors.Is(err, binder.ErrInvalidForm), errors.Is(err, binder.ErrFieldConversion):
		return ErrBadRequest.WithMessage("invalid request body")
	}
	return ErrInternalServerError.WithMessage("internal server error")
}

func logLevel(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	return slog.LevelWarn
}

// NewErrorHandler logs err and renders it as a JSON error body.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx Context, err error) {
		e := classifyError(err, classifiers)
		r := ctx.Request()
		log.LogAttrs(r.Context(), logLevel(e.Code), "request error",
			logger.Error(err),
			slog.Int("status_code", e.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)
		if renderErr := Error(e).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error", logger.Error(renderErr))
		}
	}
}

func defaultErrorHandler(ctx Context, err error) {
	_ = Error(classifyError(err, nil)).Render(ctx.ResponseWriter(), ctx.Request())
}
