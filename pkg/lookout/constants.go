package lookout

const (
	// AppName is the name of the executable and the prefix of environment
	// variables and temporary directories.
	AppName = "lookout"

	// EnvPrefix prefixes every environment variable read by lookout.
	EnvPrefix = "LOOKOUT_"
)

// Names of the supported scanners. They double as adapter identifiers in
// configuration and as finding sources in reports.
const (
	Trivy      = "trivy"
	Grype      = "grype"
	Syft       = "syft"
	Dive       = "dive"
	DockerSlim = "dockerslim"
	Conftest   = "conftest"
	Falco      = "falco"
	Nmap       = "nmap"
)

// Scanners lists the names of all supported scanners in the order they are
// launched when enabled.
var Scanners = []string{Trivy, Grype, Syft, Dive, DockerSlim, Conftest, Falco, Nmap}

// Annotations recognized on Kyverno policy documents.
const (
	AnnotationPolicySeverity     = "policies.kyverno.io/severity"
	AnnotationPolicyCategory     = "policies.kyverno.io/category"
	AnnotationPolicyTitle        = "policies.kyverno.io/title"
	AnnotationAutogenControllers = "pod-policies.kyverno.io/autogen-controllers"
)
