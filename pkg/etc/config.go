package etc

import (
	"fmt"
	"strings"
	"time"

	"github.com/aquasecurity/lookout/pkg/apis/lookout/v1alpha1"
	"github.com/aquasecurity/lookout/pkg/ext"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/caarlos0/env/v6"
	"github.com/spf13/viper"
)

type Config struct {
	Run        Run
	Trivy      Trivy
	Grype      Grype
	Syft       Syft
	Dive       Dive
	DockerSlim DockerSlim
	Conftest   Conftest
	Falco      Falco
	Nmap       Nmap

	DockerConfig string `env:"LOOKOUT_DOCKER_CONFIG"`
	LogDevMode   bool   `env:"LOOKOUT_LOG_DEV_MODE" envDefault:"false"`
}

// Run holds the options of a single analysis run.
type Run struct {
	MaxConcurrency            int               `env:"LOOKOUT_MAX_CONCURRENCY" envDefault:"4"`
	PerAdapterTimeout         time.Duration     `env:"LOOKOUT_ADAPTER_TIMEOUT" envDefault:"5m"`
	OverallDeadline           time.Duration     `env:"LOOKOUT_DEADLINE" envDefault:"15m"`
	SeverityThreshold         v1alpha1.Severity `env:"LOOKOUT_SEVERITY_THRESHOLD" envDefault:"HIGH"`
	RequireAllAdaptersSucceed bool              `env:"LOOKOUT_REQUIRE_ALL_ADAPTERS" envDefault:"false"`
	EnabledAdapters           []string          `env:"LOOKOUT_ADAPTERS" envDefault:"trivy,grype,syft,dive" envSeparator:","`
}

type Trivy struct {
	Path          string   `env:"LOOKOUT_TRIVY_PATH" envDefault:"trivy"`
	IgnoreUnfixed bool     `env:"LOOKOUT_TRIVY_IGNORE_UNFIXED" envDefault:"false"`
	Scanners      []string `env:"LOOKOUT_TRIVY_SCANNERS" envDefault:"vuln,license" envSeparator:","`
}

type Grype struct {
	Path      string `env:"LOOKOUT_GRYPE_PATH" envDefault:"grype"`
	OnlyFixed bool   `env:"LOOKOUT_GRYPE_ONLY_FIXED" envDefault:"false"`
}

type Syft struct {
	Path             string   `env:"LOOKOUT_SYFT_PATH" envDefault:"syft"`
	DeniedLicenses   []string `env:"LOOKOUT_SYFT_DENIED_LICENSES" envDefault:"AGPL-3.0,AGPL-3.0-only,AGPL-3.0-or-later,SSPL-1.0" envSeparator:","`
	ReportUnlicensed bool     `env:"LOOKOUT_SYFT_REPORT_UNLICENSED" envDefault:"true"`
}

type Dive struct {
	Path               string  `env:"LOOKOUT_DIVE_PATH" envDefault:"dive"`
	LowestEfficiency   float64 `env:"LOOKOUT_DIVE_LOWEST_EFFICIENCY" envDefault:"0.9"`
	HighestWastedBytes int64   `env:"LOOKOUT_DIVE_HIGHEST_WASTED_BYTES" envDefault:"20971520"`
}

type DockerSlim struct {
	Path              string  `env:"LOOKOUT_DOCKER_SLIM_PATH" envDefault:"docker-slim"`
	DockerPath        string  `env:"LOOKOUT_DOCKER_PATH" envDefault:"docker"`
	MaxReductionRatio float64 `env:"LOOKOUT_DOCKER_SLIM_MAX_REDUCTION_RATIO" envDefault:"2"`
}

type Conftest struct {
	Path      string `env:"LOOKOUT_CONFTEST_PATH" envDefault:"conftest"`
	PolicyDir string `env:"LOOKOUT_CONFTEST_POLICY_DIR" envDefault:"policy"`
}

type Falco struct {
	Path       string        `env:"LOOKOUT_FALCO_PATH" envDefault:"falco"`
	EventsFile string        `env:"LOOKOUT_FALCO_EVENTS_FILE"`
	Duration   time.Duration `env:"LOOKOUT_FALCO_DURATION" envDefault:"30s"`
}

type Nmap struct {
	Path         string `env:"LOOKOUT_NMAP_PATH" envDefault:"nmap"`
	Host         string `env:"LOOKOUT_NMAP_HOST"`
	AllowedPorts []int  `env:"LOOKOUT_NMAP_ALLOWED_PORTS" envDefault:"80,443" envSeparator:","`
}

// GetConfig reads the configuration from the environment.
func GetConfig() (Config, error) {
	var config Config
	err := env.Parse(&config)
	return config, err
}

// LoadFile overlays the YAML or JSON config file at path on top of config.
// Keys missing from the file keep their current values.
func LoadFile(path string, config *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return nil
}

// ConfigurationError lists every invalid setting of a configuration.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and returns a *ConfigurationError
// describing every problem found.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Run.MaxConcurrency < 1 {
		add("maxConcurrency must be at least 1, got %d", c.Run.MaxConcurrency)
	}
	if c.Run.PerAdapterTimeout <= 0 {
		add("perAdapterTimeout must be positive, got %v", c.Run.PerAdapterTimeout)
	}
	if c.Run.OverallDeadline <= 0 {
		add("overallDeadline must be positive, got %v", c.Run.OverallDeadline)
	}
	if !c.Run.SeverityThreshold.IsValid() {
		add("severityThreshold %q is not a known severity", c.Run.SeverityThreshold)
	}
	if len(c.Run.EnabledAdapters) == 0 {
		add("at least one adapter must be enabled")
	}
	seen := make(map[string]bool)
	for _, name := range c.Run.EnabledAdapters {
		if !ext.SliceContainsString(lookout.Scanners, name) {
			add("unknown adapter %q", name)
		}
		if seen[name] {
			add("adapter %q enabled more than once", name)
		}
		seen[name] = true
	}

	if c.Dive.LowestEfficiency < 0 || c.Dive.LowestEfficiency > 1 {
		add("dive lowestEfficiency must be within [0, 1], got %v", c.Dive.LowestEfficiency)
	}
	if c.Dive.HighestWastedBytes < 0 {
		add("dive highestWastedBytes must not be negative")
	}
	if seen[lookout.DockerSlim] && c.DockerSlim.MaxReductionRatio < 1 {
		add("dockerslim maxReductionRatio must be at least 1, got %v", c.DockerSlim.MaxReductionRatio)
	}
	if seen[lookout.Conftest] && c.Conftest.PolicyDir == "" {
		add("conftest policyDir is required when conftest is enabled")
	}
	if seen[lookout.Falco] && c.Falco.EventsFile == "" && c.Falco.Duration <= 0 {
		add("falco requires an eventsFile or a positive duration")
	}
	if seen[lookout.Nmap] && c.Nmap.Host == "" {
		add("nmap host is required when nmap is enabled")
	}
	for _, port := range c.Nmap.AllowedPorts {
		if port < 1 || port > 65535 {
			add("nmap allowed port %d is out of range", port)
		}
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
