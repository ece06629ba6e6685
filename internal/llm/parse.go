package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/queryarc/queryarc-api/internal/apperr"
	"github.com/queryarc/queryarc-api/internal/model"
)

// ParseObject decodes model output that should be a JSON object. Code
// fences and any prose around the outermost braces are dropped. Numbers
// stay json.Number so integer and float scores remain distinguishable.
func ParseObject(raw string) (model.Report, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, apperr.New(apperr.KindLLMMalformed, "model returned empty content")
	}
	s = stripFences(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, apperr.New(apperr.KindLLMMalformed, "model output is not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s[start : end+1])))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, apperr.Wrap(apperr.KindLLMMalformed, err, "model returned malformed JSON (likely truncated)")
	}
	if dec.More() {
		return nil, apperr.New(apperr.KindLLMMalformed, "model returned trailing data after the JSON object")
	}
	if out == nil {
		return nil, apperr.New(apperr.KindLLMMalformed, "model output is not a JSON object")
	}
	return model.Report(out), nil
}

// stripFences removes a leading ```lang line and a trailing ``` marker.
func stripFences(s string) string {
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
