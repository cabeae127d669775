package protocol

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// frameSchemas lists the required fields of each recognized inbound type.
// Extra fields are allowed so newer backends can add data.
var frameSchemas = map[string]string{
	TypeAgentThinking: `{
		"type": "object",
		"required": ["agent", "status"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"status": {"type": "string"}
		}
	}`,
	TypeAgentContentChunk: `{
		"type": "object",
		"required": ["agent", "content", "is_final"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"is_final": {"type": "boolean"}
		}
	}`,
	TypeAgentArtifactStart: `{
		"type": "object",
		"required": ["agent", "artifact"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"artifact": {
				"type": "object",
				"required": ["id", "type", "title"],
				"properties": {
					"id": {"type": ["string", "integer"], "minLength": 1},
					"type": {"type": "string"},
					"title": {"type": "string"},
					"language": {"type": ["string", "null"]}
				}
			}
		}
	}`,
	TypeAgentArtifactChunk: `{
		"type": "object",
		"required": ["agent", "artifact_id", "content", "is_final"],
		"properties": {
			"agent": {"type": "string"},
			"artifact_id": {"type": ["string", "integer"], "minLength": 1},
			"content": {"type": "string"},
			"is_final": {"type": "boolean"}
		}
	}`,
	TypeAgentError: `{
		"type": "object",
		"required": ["agent", "error"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"error": {"type": "string"}
		}
	}`,
	TypeResponseStart: `{"type": "object"}`,
	TypeResponseComplete: `{
		"type": "object",
		"properties": {
			"artifacts": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["id"],
					"properties": {"id": {"type": ["string", "integer"]}}
				}
			}
		}
	}`,
	TypeResponseError: `{
		"type": "object",
		"anyOf": [
			{"required": ["content"], "properties": {"content": {"type": "string"}}},
			{"required": ["error"], "properties": {"error": {"type": "string"}}}
		]
	}`,
	TypeGenerationStopped: `{"type": "object"}`,
	TypePong:              `{"type": "object"}`,
}

var loadSchemas = sync.OnceValues(compileSchemas)

func compileSchemas() (map[string]*gojsonschema.Schema, error) {
	compiled := make(map[string]*gojsonschema.Schema, len(frameSchemas))
	for frameType, src := range frameSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", frameType, err)
		}
		compiled[frameType] = schema
	}
	return compiled, nil
}
