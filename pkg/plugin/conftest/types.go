package conftest

// CheckResult describes the result of a conftest policy evaluation of one
// file. Errors produced by rego should be considered separate from other
// classes of exceptions.
type CheckResult struct {
	FileName   string        `json:"filename"`
	Namespace  string        `json:"namespace"`
	Successes  int           `json:"successes"`
	Warnings   []Result      `json:"warnings,omitempty"`
	Failures   []Result      `json:"failures,omitempty"`
	Exceptions []Result      `json:"exceptions,omitempty"`
	Queries    []QueryResult `json:"queries,omitempty"`
}

// Result describes the result of a single rule evaluation.
type Result struct {
	Message  string                 `json:"msg"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (r Result) metadataString(key string) string {
	if value, ok := r.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// QueryResult describes the result of evaluating a query.
type QueryResult struct {
	// Query is the fully qualified query that was used to determine the
	// result. Ex: (data.main.deny)
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Traces  []string `json:"traces"`
}
