package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrToolNotFound is returned when a tool name does not resolve.
var ErrToolNotFound = errors.New("tool not found")

// ToolRegistry resolves tool names to contracts.
type ToolRegistry interface {
	// Lookup returns the contract for name, or ErrToolNotFound.
	Lookup(name string) (ToolContract, error)

	// ValidatePayload checks an action payload against the tool's parameter schema.
	ValidatePayload(name string, payload map[string]any) error
}

type entry struct {
	contract ToolContract
	schema   *jsonschema.Schema // nil when the tool declares no schema
}

// Registry is an immutable tool catalog. It is safe for concurrent use
// because nothing mutates it after New returns.
type Registry struct {
	entries map[string]entry
	names   []string
}

// New builds a Registry, compiling every parameter schema up front.
func New(contracts []ToolContract) (*Registry, error) {
	r := &Registry{
		entries: make(map[string]entry, len(contracts)),
		names:   make([]string, 0, len(contracts)),
	}
	for _, c := range contracts {
		if c.Name == "" {
			return nil, errors.New("New: tool contract with empty name")
		}
		if _, dup := r.entries[c.Name]; dup {
			return nil, fmt.Errorf("New: duplicate tool contract %q", c.Name)
		}
		if !c.RiskLevel.Valid() {
			return nil, fmt.Errorf("New: tool %q: invalid risk level %q", c.Name, c.RiskLevel)
		}
		e := entry{contract: c.clone()}
		if c.ParameterSchema != nil {
			sch, err := compileSchema(c.ParameterSchema)
			if err != nil {
				return nil, fmt.Errorf("New: tool %q: %w", c.Name, err)
			}
			e.schema = sch
		}
		r.entries[c.Name] = e
		r.names = append(r.names, c.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// NewDefault builds a Registry from DefaultContracts.
func NewDefault() (*Registry, error) {
	return New(DefaultContracts())
}

// Lookup returns a copy of the named contract.
func (r *Registry) Lookup(name string) (ToolContract, error) {
	e, ok := r.entries[name]
	if !ok {
		return ToolContract{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.contract.clone(), nil
}

// ValidatePayload validates payload against the named tool's parameter schema.
// Tools without a schema accept any object.
func (r *Registry) ValidatePayload(name string, payload map[string]any) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if e.schema == nil {
		return nil
	}
	doc := make(map[string]any, len(payload))
	for k, v := range payload {
		doc[k] = v
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Names returns every tool name in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Contracts returns copies of every contract, sorted by name.
func (r *Registry) Contracts() []ToolContract {
	out := make([]ToolContract, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name].contract.clone())
	}
	return out
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("invalid parameter_schema: %w", err)
	}

	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return nil, fmt.Errorf("schema unmarshal error: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}
