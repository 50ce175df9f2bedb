// Package binder decodes request bodies into structs. JSON bodies use `json`
// tags; urlencoded and multipart forms use `form` tags, so one request struct
// serves both the browser form posts and the API clients.
package binder

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxBody bounds the bytes read from a JSON body.
const DefaultMaxBody int64 = 1 << 20

// Bind picks the decoder from the request Content-Type. A request without a
// body or content type binds query parameters as a form.
func Bind(r *http.Request, v any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return JSON(r, v)
	case mediaType == "application/x-www-form-urlencoded", mediaType == "multipart/form-data", mediaType == "":
		return Form(r, v)
	default:
		return ErrUnsupportedMediaType
	}
}

// JSON decodes a JSON body. An empty body leaves v untouched.
func JSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, DefaultMaxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(ErrInvalidJSON, err)
	}
	return nil
}

// Form decodes urlencoded, multipart or query values into `form` tagged fields.
func Form(r *http.Request, v any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(DefaultMaxBody)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return errors.Join(ErrInvalidForm, err)
	}
	return bindValues(v, r.Form)
}
