// Package kev loads the catalog of Known Exploited Vulnerabilities.
package kev

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Catalog is the subset of the CISA KEV catalog feed used by lookout.
type Catalog struct {
	Title           string          `json:"title"`
	CatalogVersion  string          `json:"catalogVersion"`
	DateReleased    string          `json:"dateReleased"`
	Count           int             `json:"count"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type Vulnerability struct {
	CveID                      string `json:"cveID"`
	VendorProject              string `json:"vendorProject"`
	Product                    string `json:"product"`
	DateAdded                  string `json:"dateAdded"`
	DueDate                    string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
}

// Set is an immutable set of CVE identifiers. The zero value is empty.
type Set struct {
	ids map[string]struct{}
}

// NewSet builds a set from identifiers, normalized to upper case.
func NewSet(ids ...string) Set {
	s := Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[normalize(id)] = struct{}{}
	}
	return s
}

func normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Contains reports whether the vulnerability id is known to be exploited.
func (s Set) Contains(id string) bool {
	_, ok := s.ids[normalize(id)]
	return ok
}

func (s Set) Len() int {
	return len(s.ids)
}

// Load reads either the CISA KEV catalog JSON document or a newline separated
// list of CVE identifiers, where lines starting with # are comments.
func Load(reader io.Reader) (Set, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return Set{}, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return loadCatalog(trimmed)
	}
	return loadList(trimmed)
}

// LoadFile reads the KEV data at path.
func LoadFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, fmt.Errorf("opening KEV file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	set, err := Load(f)
	if err != nil {
		return Set{}, fmt.Errorf("loading KEV file %s: %w", path, err)
	}
	return set, nil
}

func loadCatalog(data []byte) (Set, error) {
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return Set{}, fmt.Errorf("decoding KEV catalog: %w", err)
	}
	ids := make([]string, 0, len(catalog.Vulnerabilities))
	for i, v := range catalog.Vulnerabilities {
		if !cvePattern.MatchString(normalize(v.CveID)) {
			return Set{}, fmt.Errorf("vulnerabilities[%d]: invalid CVE identifier %q", i, v.CveID)
		}
		ids = append(ids, v.CveID)
	}
	return NewSet(ids...), nil
}

func loadList(data []byte) (Set, error) {
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if !cvePattern.MatchString(normalize(text)) {
			return Set{}, fmt.Errorf("line %d: invalid CVE identifier %q", line, text)
		}
		ids = append(ids, text)
	}
	if err := scanner.Err(); err != nil {
		return Set{}, err
	}
	return NewSet(ids...), nil
}
