package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TranslationResult represents the backend's answer for one chunk
type TranslationResult struct {
	Success  bool        `json:"success"`
	Data     *ResultData `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Message  string      `json:"message,omitempty"`
	VideoURL string      `json:"video_url,omitempty"` // Legacy single-clip shape
}

// ResultData carries the playable artifacts of a successful result
type ResultData struct {
	Clips    []string `json:"clips,omitempty"`
	VideoURL string   `json:"video_url,omitempty"`
	Message  string   `json:"message,omitempty"`
	Bytes    int      `json:"bytes,omitempty"`
}

// Artifacts returns the ordered playable locators carried by the result.
// Every clip is kept, repeats included; the single video_url is used only
// when the result carries no clips.
func (r *TranslationResult) Artifacts() []string {
	if r == nil || !r.Success {
		return nil
	}

	var out []string
	if r.Data != nil {
		for _, clip := range r.Data.Clips {
			if clip = strings.TrimSpace(clip); clip != "" {
				out = append(out, clip)
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, locator := range []string{r.dataVideoURL(), r.VideoURL} {
		if locator = strings.TrimSpace(locator); locator != "" {
			return []string{locator}
		}
	}
	return nil
}

func (r *TranslationResult) dataVideoURL() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.VideoURL
}

// wireResult mirrors TranslationResult with an optional success flag so the
// legacy {"video_url": ...} body can be told apart from an explicit failure
type wireResult struct {
	Success  *bool       `json:"success"`
	Data     *ResultData `json:"data"`
	Error    string      `json:"error"`
	Message  string      `json:"message"`
	VideoURL string      `json:"video_url"`
}

const resultSchemaURL = "signstream://schemas/translation_result.json"

const resultSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"success": {"type": "boolean"},
		"error": {"type": "string"},
		"message": {"type": "string"},
		"video_url": {"type": "string"},
		"data": {
			"type": ["object", "null"],
			"properties": {
				"clips": {
					"type": "array",
					"items": {"type": "string", "minLength": 1}
				},
				"video_url": {"type": "string"},
				"message": {"type": "string"},
				"bytes": {"type": "integer", "minimum": 0}
			}
		}
	},
	"anyOf": [
		{"required": ["success"]},
		{"required": ["video_url"]}
	]
}`

// compileResultSchema compiles the response contract every backend body is checked against
func compileResultSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resultSchemaURL, strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resultSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ParseResult validates a backend body and decodes it into a TranslationResult
func ParseResult(schema *jsonschema.Schema, body []byte) (*TranslationResult, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if schema != nil {
		if err := schema.Validate(payload); err != nil {
			return nil, fmt.Errorf("response does not match schema: %w", err)
		}
	}

	var wire wireResult
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &TranslationResult{
		Data:     wire.Data,
		Error:    wire.Error,
		Message:  wire.Message,
		VideoURL: wire.VideoURL,
	}
	if wire.Success != nil {
		result.Success = *wire.Success
	} else {
		// Legacy body: a bare video_url means the chunk was processed
		result.Success = wire.VideoURL != ""
	}

	return result, nil
}
