package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
)

// Metadata describes policy metadata declared by the __rego_metadata__ rule
// of a module.
type Metadata struct {
	ID          string
	Title       string
	Severity    string
	Type        string
	Description string
	Kinds       []string
}

// NewMetadata constructs new Metadata based on raw values. All values are
// optional.
func NewMetadata(values map[string]interface{}) Metadata {
	md := Metadata{
		ID:          stringValue(values, "id"),
		Title:       stringValue(values, "title"),
		Severity:    stringValue(values, "severity"),
		Type:        stringValue(values, "type"),
		Description: stringValue(values, "description"),
	}
	switch kinds := values["kinds"].(type) {
	case string:
		md.Kinds = splitKinds(kinds)
	case []interface{}:
		for _, k := range kinds {
			if s, ok := k.(string); ok && s != "" {
				md.Kinds = append(md.Kinds, s)
			}
		}
	}
	return md
}

func stringValue(values map[string]interface{}, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}

// module is a compiled Rego module with prepared deny and warn queries.
type module struct {
	deny rego.PreparedEvalQuery
	warn rego.PreparedEvalQuery
}

func compileModules(name, source string, libraries map[string]string) (*ast.Compiler, *ast.Module, error) {
	parsedModules := make(map[string]*ast.Module)
	for libraryName, libraryCode := range libraries {
		parsedLibrary, err := ast.ParseModule(libraryName, libraryCode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed parsing Rego library: %s: %w", libraryName, err)
		}
		parsedModules[libraryName] = parsedLibrary
	}
	parsedPolicy, err := ast.ParseModule(name, source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed parsing Rego policy: %s: %w", name, err)
	}
	parsedModules[name] = parsedPolicy

	compiler := ast.NewCompiler()
	compiler.Compile(parsedModules)
	if compiler.Failed() {
		return nil, nil, fmt.Errorf("failed compiling Rego policy: %s: %w", name, compiler.Errors)
	}
	return compiler, parsedPolicy, nil
}

func prepareModule(ctx context.Context, rule Rule, libraries map[string]string, store storage.Store) (*module, error) {
	compiler, parsed, err := compileModules(rule.Name, rule.Module, libraries)
	if err != nil {
		return nil, err
	}
	pkg := parsed.Package.Path.String()

	prepare := func(name string) (rego.PreparedEvalQuery, error) {
		query := fmt.Sprintf("%s.%s[res]", pkg, name)
		prepared, err := rego.New(
			rego.Compiler(compiler),
			rego.Store(store),
			rego.Query(query),
		).PrepareForEval(ctx)
		if err != nil {
			return rego.PreparedEvalQuery{}, fmt.Errorf("failed preparing Rego %s rule: %s: %w", name, query, err)
		}
		return prepared, nil
	}

	deny, err := prepare("deny")
	if err != nil {
		return nil, err
	}
	warn, err := prepare("warn")
	if err != nil {
		return nil, err
	}
	return &module{deny: deny, warn: warn}, nil
}

// eval returns the messages of deny and warn results.
func (m *module) eval(ctx context.Context, input interface{}) ([]string, []string, error) {
	denials, err := evalMessages(ctx, m.deny, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed evaluating Rego deny rule: %w", err)
	}
	warnings, err := evalMessages(ctx, m.warn, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed evaluating Rego warn rule: %w", err)
	}
	return denials, warnings, nil
}

func evalMessages(ctx context.Context, query rego.PreparedEvalQuery, input interface{}) ([]string, error) {
	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	var messages []string
	for _, r := range rs {
		binding, ok := r.Bindings["res"]
		if !ok {
			continue
		}
		messages = append(messages, resultMessage(binding))
	}
	sort.Strings(messages)
	return messages, nil
}

// resultMessage accepts plain string results and {"msg": ...} objects.
func resultMessage(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["msg"].(string); ok {
			return msg
		}
	}
	return fmt.Sprint(value)
}

// ReadModuleMetadata evaluates the __rego_metadata__ rule of a module and
// reports whether the module declares deny or warn rules. Modules without
// them are libraries.
func ReadModuleMetadata(ctx context.Context, name, source string) (Metadata, bool, error) {
	compiler, parsed, err := compileModules(name, source, nil)
	if err != nil {
		return Metadata{}, false, err
	}

	isRule := false
	for _, r := range parsed.Rules {
		switch r.Head.Name.String() {
		case "deny", "warn":
			isRule = true
		}
		// Rules declared with a reference head, e.g. deny contains msg.
		if len(r.Head.Reference) > 0 {
			switch r.Head.Reference[0].Value.String() {
			case "deny", "warn":
				isRule = true
			}
		}
	}

	metadataQuery := fmt.Sprintf("md = %s.__rego_metadata__", parsed.Package.Path.String())
	rs, err := rego.New(
		rego.Compiler(compiler),
		rego.Query(metadataQuery),
	).Eval(ctx)
	if err != nil {
		return Metadata{}, isRule, fmt.Errorf("failed evaluating Rego metadata rule: %s: %w", metadataQuery, err)
	}
	if len(rs) == 0 {
		return Metadata{}, isRule, nil
	}
	values, ok := rs[0].Bindings["md"].(map[string]interface{})
	if !ok {
		return Metadata{}, isRule, fmt.Errorf("failed parsing policy metadata: %s", name)
	}
	return NewMetadata(values), isRule, nil
}
