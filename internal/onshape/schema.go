package onshape

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

const schemaBaseURL = "https://cadbridge.schemas.local/"

// Response shapes with an embedded schema.
const (
	schemaDocuments = "documents.schema.json"
	schemaElements  = "elements.schema.json"
	schemaParts     = "parts.schema.json"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchema(name string) (*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		schemas, schemasErr = compileSchemas()
	})
	if schemasErr != nil {
		return nil, schemasErr
	}
	schema, ok := schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown response schema %q", name)
	}
	return schema, nil
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	entries, err := schemaFiles.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, entry := range entries {
		data, err := schemaFiles.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := c.AddResource(schemaBaseURL+entry.Name(), strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("response schema load failed: %w", err)
		}
	}

	out := make(map[string]*jsonschema.Schema, 3)
	for _, name := range []string{schemaDocuments, schemaElements, schemaParts} {
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("response schema compile failed: %w", err)
		}
		out[name] = compiled
	}
	return out, nil
}

// validateShape checks a generically decoded JSON document against the
// named schema.
func validateShape(name string, doc any) error {
	schema, err := compiledSchema(name)
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
