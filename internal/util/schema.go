package util

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// CreateSchema reflects a JSON schema from a Go struct. Definitions are
// inlined so the result can be pasted into a prompt as-is.
func CreateSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	if t := reflect.TypeOf(v); t != nil && t.Kind() == reflect.Ptr {
		return reflector.ReflectFromType(t.Elem())
	}
	return reflector.Reflect(v)
}

// SchemaJSON returns the indented JSON encoding of the schema of v.
func SchemaJSON(v any) (string, error) {
	b, err := json.MarshalIndent(CreateSchema(v), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
