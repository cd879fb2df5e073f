package kube

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	yamlutil "k8s.io/apimachinery/pkg/util/yaml"
)

var manifestExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// LoadManifests reads every YAML and JSON document under path, which is
// either a directory walked recursively or a single file. Documents without
// kind are skipped, List kinds are expanded into their items, and duplicate
// resources keep their first occurrence.
func LoadManifests(path string, logger logr.Logger) ([]Resource, error) {
	files, err := manifestFiles(path)
	if err != nil {
		return nil, err
	}

	var resources []Resource
	seen := make(map[string]string)
	add := func(resource Resource) {
		if file, ok := seen[resource.ID()]; ok {
			logger.Info("Skipping duplicate resource", "resource", resource.ID(), "file", resource.File, "firstSeenIn", file)
			return
		}
		seen[resource.ID()] = resource.File
		resources = append(resources, resource)
	}

	for _, file := range files {
		objects, err := decodeFile(file)
		if err != nil {
			return nil, err
		}
		for i, object := range objects {
			u := &unstructured.Unstructured{Object: object}
			if u.GetKind() == "" {
				logger.Info("Skipping document without kind", "file", file, "document", i)
				continue
			}
			if !u.IsList() {
				add(NewResource(object, file))
				continue
			}
			err := u.EachListItem(func(item runtime.Object) error {
				member := item.(*unstructured.Unstructured)
				if member.GetKind() == "" {
					logger.Info("Skipping list item without kind", "file", file, "document", i)
					return nil
				}
				add(NewResource(member.Object, file))
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("expanding list in %s: %w", file, err)
			}
		}
	}
	logger.V(1).Info("Loaded manifests", "path", path, "files", len(files), "resources", len(resources))
	return resources, nil
}

func manifestFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifests: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if manifestExtensions[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading manifests: %w", err)
	}
	return files, nil
}

func decodeFile(file string) ([]map[string]interface{}, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var objects []map[string]interface{}
	decoder := yamlutil.NewYAMLOrJSONDecoder(f, 4096)
	for {
		var object map[string]interface{}
		err := decoder.Decode(&object)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", file, err)
		}
		// Empty documents, e.g. after a trailing separator.
		if len(object) == 0 {
			continue
		}
		objects = append(objects, object)
	}
	return objects, nil
}
