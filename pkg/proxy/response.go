package proxy

import (
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// ErrMalformedResponse is returned for a 2xx body that is not JSON.
var ErrMalformedResponse = errors.New("malformed upstream response")

const textPath = "candidates.0.content.parts.0.text"

// ExtractText pulls the first candidate text out of a generateContent
// response. A missing or empty text yields nil.
func ExtractText(body []byte) (*string, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrMalformedResponse
	}
	res := gjson.GetBytes(body, textPath)
	if !res.Exists() || res.String() == "" {
		return nil, nil
	}
	text := res.String()
	return &text, nil
}

// Details decodes an upstream error body: JSON when it parses, raw text otherwise.
func Details(body []byte) any {
	if len(body) > 0 && gjson.ValidBytes(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
