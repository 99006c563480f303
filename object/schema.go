package object

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pilacorp/go-twin-sdk/failure"
)

//go:embed metadata_schema.json
var metadataSchemaJSON []byte

var (
	defaultSchema     *gojsonschema.Schema
	defaultSchemaOnce sync.Once
	errDefaultSchema  error
)

// DefaultMetadataSchema returns the compiled built-in metadata schema. It
// requires a non-empty "name".
func DefaultMetadataSchema() (*gojsonschema.Schema, error) {
	defaultSchemaOnce.Do(func() {
		defaultSchema, errDefaultSchema = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(metadataSchemaJSON))
		if errDefaultSchema != nil {
			errDefaultSchema = fmt.Errorf("failed to compile metadata schema: %w", errDefaultSchema)
		}
	})

	return defaultSchema, errDefaultSchema
}

// ValidateMetadata checks metadata against schema.
func ValidateMetadata(schema *gojsonschema.Schema, metadata map[string]any) error {
	if metadata == nil {
		return failure.New(failure.Validation, failure.ReasonMalformedInput, "metadata is required")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(metadata))
	if err != nil {
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, "failed to validate metadata")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return failure.New(failure.Validation, failure.ReasonMalformedInput, "metadata is invalid: %s", strings.Join(msgs, "; "))
	}

	return nil
}
