package handler

import (
	"encoding/json"
	"net/http"
)

type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON renders v with status 200.
func JSON(v any) Response {
	return jsonResponse{status: http.StatusOK, body: v}
}

// errorBody is the wire shape of every error: {"error": msg, "code": key}
// plus any HTTPError fields.
func errorBody(e HTTPError) map[string]any {
	body := make(map[string]any, 2+len(e.Fields))
	for k, v := range e.Fields {
		body[k] = v
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	body["error"] = msg
	body["code"] = e.Key
	return body
}

// Error renders e as a JSON error body with its status code.
func Error(e HTTPError) Response {
	return jsonResponse{status: e.Code, body: errorBody(e)}
}
