package policy

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/go-logr/logr"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

//go:embed builtin
var builtinFS embed.FS

const (
	kindClusterPolicy = "ClusterPolicy"
	kindPolicy        = "Policy"
	kindRule          = "Rule"
)

var kindsHeader = regexp.MustCompile(`^#\s*kinds:\s*(.+)$`)

type kyvernoPolicy struct {
	Kind     string `json:"kind"`
	Metadata struct {
		Name        string            `json:"name"`
		Annotations map[string]string `json:"annotations"`
	} `json:"metadata"`
	Spec struct {
		Rules []kyvernoRule `json:"rules"`
	} `json:"spec"`
}

type kyvernoResources struct {
	Kinds []string `json:"kinds"`
}

type kyvernoFilter struct {
	Resources kyvernoResources `json:"resources"`
}

type kyvernoRule struct {
	Name  string `json:"name"`
	Match struct {
		Resources kyvernoResources `json:"resources"`
		Any       []kyvernoFilter  `json:"any"`
		All       []kyvernoFilter  `json:"all"`
	} `json:"match"`
	Validate *struct {
		Message    string        `json:"message"`
		Pattern    interface{}   `json:"pattern"`
		AnyPattern []interface{} `json:"anyPattern"`
	} `json:"validate"`
}

func (r kyvernoRule) kinds() []string {
	var kinds []string
	add := func(resources kyvernoResources) {
		for _, k := range resources.Kinds {
			// Kinds may be qualified as group/version/Kind.
			kinds = append(kinds, k[strings.LastIndex(k, "/")+1:])
		}
	}
	add(r.Match.Resources)
	for _, f := range r.Match.Any {
		add(f.Resources)
	}
	for _, f := range r.Match.All {
		add(f.Resources)
	}
	return kinds
}

// ruleDocument is the native rule format:
//
//	apiVersion: lookout.aquasecurity.github.io/v1alpha1
//	kind: Rule
//	metadata:
//	  name: no-critical-vulnerabilities
//	spec:
//	  kinds: [Image]
//	  expression: input.findings.byKind.Vulnerability.critical == 0
type ruleDocument struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Spec struct {
		Title      string      `json:"title"`
		Kinds      []string    `json:"kinds"`
		Message    string      `json:"message"`
		Severity   string      `json:"severity"`
		Category   string      `json:"category"`
		Expression string      `json:"expression"`
		Pattern    interface{} `json:"pattern"`
		Rego       string      `json:"rego"`
	} `json:"spec"`
}

// Loader reads rule documents: Kyverno ClusterPolicy and Policy documents,
// native Rule documents and Rego modules.
type Loader struct {
	logger    logr.Logger
	rules     []Rule
	libraries map[string]string
	problems  []string
}

func NewLoader(logger logr.Logger) *Loader {
	return &Loader{
		logger:    logger,
		libraries: make(map[string]string),
	}
}

// LoadRules builds the RuleSet of a run from the built-in rules, unless
// disabled, and the documents found under paths.
func LoadRules(ctx context.Context, paths []string, builtin bool, logger logr.Logger) (*RuleSet, error) {
	loader := NewLoader(logger)
	if builtin {
		if err := loader.LoadFS(ctx, builtinFS, "builtin"); err != nil {
			return nil, err
		}
	}
	for _, p := range paths {
		if err := loader.LoadPath(ctx, p); err != nil {
			return nil, err
		}
	}
	return loader.RuleSet()
}

// RuleSet returns the loaded rules, or a ConfigurationError listing every
// invalid document.
func (l *Loader) RuleSet() (*RuleSet, error) {
	if len(l.problems) > 0 {
		return nil, &etc.ConfigurationError{Problems: l.problems}
	}
	return NewRuleSet(l.rules, l.libraries)
}

// LoadPath loads a single file or every rule file under a directory.
func (l *Loader) LoadPath(ctx context.Context, p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("reading policies: %w", err)
	}
	if !info.IsDir() {
		return l.LoadFS(ctx, os.DirFS(filepath.Dir(p)), filepath.Base(p))
	}
	return l.LoadFS(ctx, os.DirFS(p), ".")
}

// LoadFS loads rule files from root within fsys. Files with other
// extensions are ignored.
func (l *Loader) LoadFS(ctx context.Context, fsys fs.FS, root string) error {
	return fs.WalkDir(fsys, root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".yaml", ".yml", ".json":
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return err
			}
			l.loadDocuments(data, name)
		case ".rego":
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return err
			}
			l.loadModule(ctx, string(data), name)
		}
		return nil
	})
}

func (l *Loader) addProblem(format string, args ...interface{}) {
	l.problems = append(l.problems, fmt.Sprintf(format, args...))
}

func (l *Loader) loadDocuments(data []byte, source string) {
	reader := yamlutil.NewYAMLReader(bufio.NewReader(bytes.NewReader(data)))
	for i := 0; ; i++ {
		doc, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			l.addProblem("reading %s: %v", source, err)
			return
		}
		if len(bytes.TrimSpace(doc)) == 0 {
			continue
		}
		var header struct {
			Kind string `json:"kind"`
		}
		if err := yaml.Unmarshal(doc, &header); err != nil {
			l.addProblem("decoding document %d of %s: %v", i, source, err)
			continue
		}
		switch header.Kind {
		case kindClusterPolicy, kindPolicy:
			l.loadKyvernoPolicy(doc, source)
		case kindRule:
			l.loadRuleDocument(doc, source)
		case "":
			// Comment only documents.
		default:
			l.logger.V(1).Info("Skipping document of unsupported kind", "kind", header.Kind, "source", source)
		}
	}
}

func (l *Loader) loadKyvernoPolicy(doc []byte, source string) {
	var policy kyvernoPolicy
	if err := yaml.Unmarshal(doc, &policy); err != nil {
		l.addProblem("decoding policy in %s: %v", source, err)
		return
	}
	annotations := policy.Metadata.Annotations
	severity, err := parseSeverity(annotations[lookout.AnnotationPolicySeverity], v1alpha1.SeverityMedium)
	if err != nil {
		l.addProblem("policy %s in %s: %v", policy.Metadata.Name, source, err)
		return
	}
	autogen := DefaultAutogen()
	if controllers, ok := annotations[lookout.AnnotationAutogenControllers]; ok {
		autogen = nil
		if controllers != "none" {
			autogen = splitKinds(controllers)
		}
	}

	var validating []kyvernoRule
	for _, r := range policy.Spec.Rules {
		if r.Validate == nil || (r.Validate.Pattern == nil && len(r.Validate.AnyPattern) == 0) {
			l.logger.V(1).Info("Skipping Kyverno rule without validate pattern", "policy", policy.Metadata.Name, "rule", r.Name)
			continue
		}
		validating = append(validating, r)
	}

	for _, r := range validating {
		name := policy.Metadata.Name
		if len(validating) > 1 {
			name = policy.Metadata.Name + "/" + r.Name
		}
		patterns := r.Validate.AnyPattern
		if r.Validate.Pattern != nil {
			patterns = []interface{}{r.Validate.Pattern}
		}
		l.rules = append(l.rules, Rule{
			Name:     name,
			Title:    annotations[lookout.AnnotationPolicyTitle],
			Kinds:    r.kinds(),
			Mode:     ModePattern,
			Message:  r.Validate.Message,
			Severity: severity,
			Category: annotations[lookout.AnnotationPolicyCategory],
			Patterns: patterns,
			Autogen:  autogen,
			Source:   source,
		})
	}
}

func (l *Loader) loadRuleDocument(doc []byte, source string) {
	var d ruleDocument
	if err := yaml.Unmarshal(doc, &d); err != nil {
		l.addProblem("decoding rule in %s: %v", source, err)
		return
	}
	severity, err := parseSeverity(d.Spec.Severity, v1alpha1.SeverityMedium)
	if err != nil {
		l.addProblem("rule %s in %s: %v", d.Metadata.Name, source, err)
		return
	}
	rule := Rule{
		Name:     d.Metadata.Name,
		Title:    d.Spec.Title,
		Kinds:    d.Spec.Kinds,
		Message:  d.Spec.Message,
		Severity: severity,
		Category: d.Spec.Category,
		Autogen:  DefaultAutogen(),
		Source:   source,
	}

	set := 0
	if d.Spec.Expression != "" {
		rule.Mode = ModeExpression
		rule.Expression = d.Spec.Expression
		set++
	}
	if d.Spec.Pattern != nil {
		rule.Mode = ModePattern
		rule.Patterns = []interface{}{d.Spec.Pattern}
		set++
	}
	if d.Spec.Rego != "" {
		rule.Mode = ModeRego
		rule.Module = d.Spec.Rego
		set++
	}
	if set != 1 {
		l.addProblem("rule %s in %s must declare exactly one of expression, pattern or rego", d.Metadata.Name, source)
		return
	}
	if len(rule.Kinds) == 0 {
		rule.Kinds = []string{kindAny}
	}
	l.rules = append(l.rules, rule)
}

// loadModule registers a Rego module as a rule when it declares deny or
// warn rules, and as a library otherwise.
func (l *Loader) loadModule(ctx context.Context, source, file string) {
	md, isRule, err := ReadModuleMetadata(ctx, file, source)
	if err != nil {
		l.addProblem("loading Rego module %s: %v", file, err)
		return
	}
	if !isRule {
		l.libraries[file] = source
		return
	}

	severity, err := parseSeverity(md.Severity, v1alpha1.SeverityMedium)
	if err != nil {
		l.addProblem("Rego module %s: %v", file, err)
		return
	}
	kinds := headerKinds(source)
	if len(kinds) == 0 {
		kinds = md.Kinds
	}
	if len(kinds) == 0 {
		kinds = []string{kindAny}
	}
	name := md.ID
	if name == "" {
		name = strings.TrimSuffix(path.Base(file), path.Ext(file))
	}
	l.rules = append(l.rules, Rule{
		Name:     name,
		Title:    md.Title,
		Kinds:    kinds,
		Mode:     ModeRego,
		Message:  md.Description,
		Severity: severity,
		Category: md.Type,
		Module:   source,
		Source:   file,
	})
}

// headerKinds reads a "# kinds: Pod,Deployment" comment preceding the
// package clause.
func headerKinds(source string) []string {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if m := kindsHeader.FindStringSubmatch(line); m != nil {
			return splitKinds(m[1])
		}
		if strings.HasPrefix(line, "package ") {
			break
		}
	}
	return nil
}

func splitKinds(value string) []string {
	var kinds []string
	for _, k := range strings.Split(value, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func parseSeverity(value string, fallback v1alpha1.Severity) (v1alpha1.Severity, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return v1alpha1.StringToSeverity(value)
}
