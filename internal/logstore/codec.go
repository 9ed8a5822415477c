package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"tutor-agent/internal/domain"
)

// dailyLogSchema is the only payload shape accepted for a partition.
const dailyLogSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["time", "role", "content", "course", "chapter"],
		"properties": {
			"time": {"type": "string", "format": "date-time"},
			"role": {"enum": ["user", "ai"]},
			"content": {"type": "string"},
			"course": {"type": "string"},
			"chapter": {"type": "string"}
		}
	}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		schema, schemaErr = compiler.Compile([]byte(dailyLogSchema))
	})
	return schema, schemaErr
}

// EncodeTurns renders a daily log as an indented JSON array.
func EncodeTurns(turns []domain.Turn) ([]byte, error) {
	if turns == nil {
		turns = []domain.Turn{}
	}
	out, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("logstore: encode turns: %w", err)
	}
	return out, nil
}

// DecodeTurns validates data against the daily log schema and decodes it.
// Anything that is not an array of well-formed turns is rejected.
func DecodeTurns(data []byte) ([]domain.Turn, error) {
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile daily log schema: %w", err)
	}
	if result := s.ValidateJSON(data); !result.IsValid() {
		return nil, fmt.Errorf("schema validation failed: %v", result.Errors)
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	return turns, nil
}
