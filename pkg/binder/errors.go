package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("binder: unsupported content type")
	ErrInvalidJSON          = errors.New("binder: invalid JSON body")
	ErrInvalidForm          = errors.New("binder: invalid form body")
	ErrInvalidTarget        = errors.New("binder: target must be a non-nil pointer to struct")
	ErrFieldConversion      = errors.New("binder: cannot convert field value")
)
