package plugin

import (
	"fmt"

	"github.com/aquasecurity/lookout/pkg/docker"
	"github.com/aquasecurity/lookout/pkg/etc"
	"github.com/aquasecurity/lookout/pkg/lookout"
	"github.com/aquasecurity/lookout/pkg/plugin/conftest"
	"github.com/aquasecurity/lookout/pkg/plugin/dive"
	"github.com/aquasecurity/lookout/pkg/plugin/dockerslim"
	"github.com/aquasecurity/lookout/pkg/plugin/falco"
	"github.com/aquasecurity/lookout/pkg/plugin/grype"
	"github.com/aquasecurity/lookout/pkg/plugin/nmap"
	"github.com/aquasecurity/lookout/pkg/plugin/syft"
	"github.com/aquasecurity/lookout/pkg/plugin/trivy"
	"github.com/aquasecurity/lookout/pkg/scanner"
	"github.com/go-logr/logr"
)

type Resolver struct {
	config       etc.Config
	logger       logr.Logger
	dockerConfig *docker.Config
}

func NewResolver() *Resolver {
	return &Resolver{logger: logr.Discard()}
}

func (r *Resolver) WithConfig(config etc.Config) *Resolver {
	r.config = config
	return r
}

func (r *Resolver) WithLogger(logger logr.Logger) *Resolver {
	r.logger = logger
	return r
}

func (r *Resolver) WithDockerConfig(config *docker.Config) *Resolver {
	r.dockerConfig = config
	return r
}

// GetAdapter is a factory method that instantiates the scanner.Adapter with
// the specified name.
//
// You could add your own tool by implementing the scanner.Adapter interface
// and registering it here.
func (r *Resolver) GetAdapter(name string) (scanner.Adapter, error) {
	ctx := lookout.NewPluginContext().
		WithName(name).
		WithLogger(r.logger).
		WithDockerConfig(r.dockerConfig).
		Build()

	switch name {
	case lookout.Trivy:
		return trivy.NewPlugin(ctx, r.config.Trivy), nil
	case lookout.Grype:
		return grype.NewPlugin(ctx, r.config.Grype), nil
	case lookout.Syft:
		return syft.NewPlugin(ctx, r.config.Syft), nil
	case lookout.Dive:
		return dive.NewPlugin(ctx, r.config.Dive), nil
	case lookout.DockerSlim:
		return dockerslim.NewPlugin(ctx, r.config.DockerSlim), nil
	case lookout.Conftest:
		return conftest.NewPlugin(ctx, r.config.Conftest), nil
	case lookout.Falco:
		return falco.NewPlugin(ctx, r.config.Falco), nil
	case lookout.Nmap:
		return nmap.NewPlugin(ctx, r.config.Nmap), nil
	}
	return nil, fmt.Errorf("unsupported adapter: %s", name)
}

// GetAdapters returns the enabled adapters in the configured order.
func (r *Resolver) GetAdapters() ([]scanner.Adapter, error) {
	adapters := make([]scanner.Adapter, 0, len(r.config.Run.EnabledAdapters))
	for _, name := range r.config.Run.EnabledAdapters {
		adapter, err := r.GetAdapter(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
