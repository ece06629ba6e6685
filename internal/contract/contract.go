// Package contract publishes the locked request/response schema of the
// answer-presence tool for front-end generators and CI smoke tests.
package contract

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/queryarc/queryarc-api/internal/apperr"
)

// Version is bumped whenever Request or Response change shape.
const Version = "0.1.0"

// Request is the contract-test payload.
type Request struct {
	ProjectName string   `json:"project_name" jsonschema:"title=Project Name,example=QueryArc"`
	CoreTopic   string   `json:"core_topic" jsonschema:"title=Core Topic,example=LLM SEO"`
	BrandTerms  []string `json:"brand_terms" jsonschema:"title=Brand Terms"`
}

// Response echoes an accepted Request.
type Response struct {
	Accepted   bool      `json:"accepted" jsonschema:"description=Always true"`
	Version    string    `json:"version"`
	ReceivedAt time.Time `json:"received_at"`
	Echo       Request   `json:"echo"`
}

// Document is the body of the contract endpoint.
type Document struct {
	Version  string             `json:"version"`
	Request  *jsonschema.Schema `json:"request"`
	Response *jsonschema.Schema `json:"response"`
}

// Contract reflects the current schemas.
func Contract() Document {
	r := jsonschema.Reflector{DoNotReference: true}
	return Document{
		Version:  Version,
		Request:  r.Reflect(&Request{}),
		Response: r.Reflect(&Response{}),
	}
}

// Decode parses a contract-test body. Every field is required; brand_terms
// must be a list of strings.
func Decode(body []byte) (Request, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, apperr.Wrap(apperr.KindInvalidRequest, err, "body must be a JSON object")
	}
	var missing []string
	for _, k := range []string{"project_name", "core_topic", "brand_terms"} {
		if v, ok := raw[k]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Request{}, &apperr.Error{Kind: apperr.KindInvalidRequest, Message: "missing required fields", Missing: missing}
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, apperr.Wrap(apperr.KindInvalidRequest, err, "invalid field types")
	}
	return req, nil
}

// Echo builds the accepted response for req.
func Echo(req Request, now time.Time) Response {
	return Response{Accepted: true, Version: Version, ReceivedAt: now.UTC(), Echo: req}
}
