package syft

import (
	"encoding/json"
)

// Document is the SBOM printed by `syft -o json`.
type Document struct {
	Artifacts  []Artifact `json:"artifacts"`
	Source     Source     `json:"source"`
	Descriptor Descriptor `json:"descriptor"`
}

type Artifact struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Type      string     `json:"type"`
	PURL      string     `json:"purl"`
	Locations []Location `json:"locations"`
	Licenses  Licenses   `json:"licenses"`
}

type Location struct {
	Path    string `json:"path"`
	LayerID string `json:"layerID"`
}

type License struct {
	Value          string `json:"value"`
	SPDXExpression string `json:"spdxExpression"`
	Type           string `json:"type"`
}

// Name returns the SPDX expression when known, the raw value otherwise.
func (l License) Name() string {
	if l.SPDXExpression != "" {
		return l.SPDXExpression
	}
	return l.Value
}

// Licenses decodes both the current list of license objects and the list of
// plain strings written by older syft releases.
type Licenses []License

func (l *Licenses) UnmarshalJSON(data []byte) error {
	var objects []License
	if err := json.Unmarshal(data, &objects); err == nil {
		*l = objects
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	licenses := make([]License, len(names))
	for i, name := range names {
		licenses[i] = License{Value: name}
	}
	*l = licenses
	return nil
}

type Source struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type Descriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
