package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaValidator checks decoded manifests against the built-in CUE schema.
type SchemaValidator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewSchemaValidator compiles the built-in manifest schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(manifestSchema)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema has no #Manifest definition: %w", err)
	}

	return &SchemaValidator{ctx: ctx, schema: def}, nil
}

// Validate unifies m with the schema.
func (sv *SchemaValidator) Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	// cue.Context is not safe for concurrent use.
	sv.mu.Lock()
	defer sv.mu.Unlock()

	dataVal := sv.ctx.CompileBytes(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	unified := sv.schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

const manifestSchema = `
#Manifest: {
	// Version is the manifest format version
	version: int & >=1

	name?: string

	includes?: [...string]

	// Apps is the ordered list of applications
	apps: [...#App]

	// Restore and verify entries are handled outside the engine
	restore?: [...{...}]
	verify?: [...{...}]

	...
}

#App: {
	id: string & !=""

	// Unknown drivers are reported per app at apply time
	driver?: string

	// Refs maps a platform (windows, linux, darwin, default) to an installable id
	refs?: {[string]: string & !=""}

	// Version is "1.2.3" for an exact pin or ">=1.2.3" for a minimum
	version?: string & =~"^(>=|==|=)?\\s*[0-9A-Za-z][0-9A-Za-z._+-]*$"

	custom?: #Custom

	disabled?: bool

	...
}

#Custom: {
	installScript: string & !=""
	detect?:       #Detect
}

#Detect: {
	type:       "file" | "registry" | "expr"
	path?:      string
	key?:       string
	valueName?: string
	expr?:      string
}
`
