package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each content_type's JSON Schema once and reuses
// it across every validation.
var schemaCache sync.Map // content_type -> *jsonschema.Schema

var schemaSource = map[string]string{
	TypeInstruction: `{"type":"object","required":["content_type","text"],"properties":{"content_type":{"const":"instruction"},"text":{"type":"string","minLength":1}}}`,
	TypeDialogue:    `{"type":"object","required":["content_type","role","text"],"properties":{"content_type":{"const":"dialogue"},"role":{"enum":["user","assistant"]},"text":{"type":"string","minLength":1},"name":{"type":"string"}}}`,
	TypeToolIO:      `{"type":"object","required":["content_type","role","tool_call_id"],"properties":{"content_type":{"const":"tool_io"},"role":{"enum":["tool_call","tool_result"]},"tool_call_id":{"type":"string","minLength":1}}}`,
	TypeReasoning:   `{"type":"object","required":["content_type","text"],"properties":{"content_type":{"const":"reasoning"},"text":{"type":"string","minLength":1}}}`,
	TypeArtifact:    `{"type":"object","required":["content_type","content_type_inner","body"],"properties":{"content_type":{"const":"artifact"}}}`,
	TypeOutput:      `{"type":"object","required":["content_type","text"],"properties":{"content_type":{"const":"output"},"text":{"type":"string","minLength":1}}}`,
	TypeFreeform:    `{"type":"object","required":["content_type","text","role"],"properties":{"content_type":{"const":"freeform"}}}`,
	TypeSession:     `{"type":"object","required":["content_type","session_type"],"properties":{"content_type":{"const":"session"},"session_type":{"enum":["start","end","handoff","checkpoint"]}}}`,
}

func compiledSchema(contentType string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(contentType); ok {
		return cached.(*jsonschema.Schema), nil
	}
	src, ok := schemaSource[contentType]
	if !ok {
		return nil, fmt.Errorf("content: no schema registered for content_type %q", contentType)
	}
	url := "mem://tract/" + contentType + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("content: add schema resource for %q: %w", contentType, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("content: compile schema for %q: %w", contentType, err)
	}
	actual, _ := schemaCache.LoadOrStore(contentType, schema)
	return actual.(*jsonschema.Schema), nil
}

// ValidateSchema checks p's canonical map form against its content_type's
// JSON Schema, catching shape errors that the Go type system alone (e.g. a
// hand-built map from a dynamic caller) would not.
func ValidateSchema(p Payload) error {
	schema, err := compiledSchema(p.ContentType())
	if err != nil {
		return err
	}
	if err := schema.Validate(p.ToMap()); err != nil {
		return fmt.Errorf("content: schema validation failed for %q: %w", p.ContentType(), err)
	}
	return nil
}
