package validation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/kickstart_request.json
var kickstartRequestSchema []byte

var (
	compileOnce     sync.Once
	compiledRequest *jsonschema.Schema
	compileErr      error

	quotedName = regexp.MustCompile(`'([^']+)'`)
)

func requestSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		const id = "inmemory://kickstart_request.json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(id, bytes.NewReader(kickstartRequestSchema)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledRequest, compileErr = compiler.Compile(id)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiledRequest, compileErr
}

// validateShape checks a decoded JSON document against the request
// schema and reports violations per top-level field.
func validateShape(doc any) error {
	schema, err := requestSchema()
	if err != nil {
		return err
	}

	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	fields := FieldErrors{}
	collectSchemaErrors(verr, fields)
	if len(fields) == 0 {
		fields.add("body", verr.Message)
	}
	return fields
}

func collectSchemaErrors(e *jsonschema.ValidationError, fields FieldErrors) {
	if len(e.Causes) > 0 {
		for _, c := range e.Causes {
			collectSchemaErrors(c, fields)
		}
		return
	}

	switch {
	case strings.HasSuffix(e.KeywordLocation, "/required"):
		for _, m := range quotedName.FindAllStringSubmatch(e.Message, -1) {
			fields.add(m[1], "is required")
		}
	case strings.HasSuffix(e.KeywordLocation, "/additionalProperties"):
		for _, m := range quotedName.FindAllStringSubmatch(e.Message, -1) {
			fields.add(m[1], "is not a known field")
		}
	default:
		fields.add(fieldOf(e.InstanceLocation), e.Message)
	}
}

// fieldOf maps a JSON pointer such as "/nameserver/1" to its top-level
// property.
func fieldOf(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	if p == "" {
		return "body"
	}
	name, _, _ := strings.Cut(p, "/")
	return name
}
