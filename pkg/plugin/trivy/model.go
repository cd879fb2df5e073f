package trivy

// ScanReport is the document printed by `trivy image --format json`.
type ScanReport struct {
	SchemaVersion int          `json:"SchemaVersion"`
	ArtifactName  string       `json:"ArtifactName"`
	Results       []ScanResult `json:"Results"`
}

type ScanResult struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class"`
	Type            string          `json:"Type"`
	Vulnerabilities []Vulnerability `json:"Vulnerabilities"`
	Licenses        []License       `json:"Licenses"`
}

type Vulnerability struct {
	VulnerabilityID  string           `json:"VulnerabilityID"`
	PkgName          string           `json:"PkgName"`
	InstalledVersion string           `json:"InstalledVersion"`
	FixedVersion     string           `json:"FixedVersion"`
	Title            string           `json:"Title"`
	Description      string           `json:"Description"`
	Severity         string           `json:"Severity"`
	Layer            Layer            `json:"Layer"`
	PrimaryURL       string           `json:"PrimaryURL"`
	References       []string         `json:"References"`
	Cvss             map[string]*CVSS `json:"CVSS"`
}

type CVSS struct {
	V3Score *float64 `json:"V3Score,omitempty"`
}

type Layer struct {
	Digest string `json:"Digest"`
	DiffID string `json:"DiffID"`
}

type License struct {
	Severity   string  `json:"Severity"`
	Category   string  `json:"Category"`
	PkgName    string  `json:"PkgName"`
	FilePath   string  `json:"FilePath"`
	Name       string  `json:"Name"`
	Confidence float64 `json:"Confidence"`
	Link       string  `json:"Link"`
}
