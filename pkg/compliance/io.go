package compliance

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const SpecsFolder = "specs"

var (
	//go:embed specs
	res embed.FS
)

// ParseFramework decodes a framework spec. Unknown top level fields are
// rejected.
func ParseFramework(data []byte) (Framework, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	framework := Framework{PassScore: DefaultPassScore}
	if err := decoder.Decode(&framework); err != nil {
		return Framework{}, err
	}
	return framework, nil
}

// LoadFrameworks returns the embedded frameworks together with the ones
// found in dir, ordered by name. dir may be empty. A framework in dir
// replaces an embedded framework of the same name.
func LoadFrameworks(dir string, log logr.Logger) ([]Framework, error) {
	byName := make(map[string]Framework)
	var problems []string

	load := func(source string, data []byte, embedded bool) {
		framework, err := ParseFramework(data)
		if err != nil {
			problems = append(problems, fmt.Sprintf("decoding framework %s: %v", source, err))
			return
		}
		if p := framework.Validate(); len(p) > 0 {
			problems = append(problems, p...)
			return
		}
		if _, exists := byName[framework.Name]; exists {
			if embedded {
				problems = append(problems, fmt.Sprintf("duplicate framework %s in %s", framework.Name, source))
				return
			}
			log.V(1).Info("Replacing framework", "name", framework.Name, "source", source)
		}
		byName[framework.Name] = framework
	}

	entries, err := res.ReadDir(SpecsFolder)
	if err != nil {
		return nil, fmt.Errorf("reading embedded frameworks: %w", err)
	}
	for _, entry := range entries {
		name := path.Join(SpecsFolder, entry.Name())
		data, err := res.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("reading embedded framework %s: %w", name, err)
		}
		load(name, data, true)
	}

	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading frameworks: %w", err)
		}
		for _, entry := range entries {
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			file := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("reading framework %s: %w", file, err)
			}
			load(file, data, false)
		}
	}

	if len(problems) > 0 {
		return nil, &etc.ConfigurationError{Problems: problems}
	}

	frameworks := make([]Framework, 0, len(byName))
	for _, framework := range byName {
		frameworks = append(frameworks, framework)
	}
	sort.Slice(frameworks, func(i, j int) bool {
		return frameworks[i].Name < frameworks[j].Name
	})
	log.V(1).Info("Loaded compliance frameworks", "count", len(frameworks))
	return frameworks, nil
}
