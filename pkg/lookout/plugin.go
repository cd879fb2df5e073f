package lookout

import (
	"github.com/aquasecurity/lookout/pkg/docker"
	"github.com/go-logr/logr"
)

// PluginContext is a scanner plugin's execution context. It grants the
// plugin access to shared facilities without package level state.
type PluginContext interface {
	// GetName returns the name of the plugin.
	GetName() string
	// GetLogger returns a logger scoped to the plugin.
	GetLogger() logr.Logger
	// GetDockerConfig returns registry credentials, or nil when none were
	// configured.
	GetDockerConfig() *docker.Config
}

type pluginContext struct {
	name         string
	logger       logr.Logger
	dockerConfig *docker.Config
}

func (p *pluginContext) GetName() string {
	return p.name
}

func (p *pluginContext) GetLogger() logr.Logger {
	return p.logger
}

func (p *pluginContext) GetDockerConfig() *docker.Config {
	return p.dockerConfig
}

type PluginContextBuilder struct {
	ctx *pluginContext
}

func NewPluginContext() *PluginContextBuilder {
	return &PluginContextBuilder{
		ctx: &pluginContext{logger: logr.Discard()},
	}
}

func (b *PluginContextBuilder) WithName(name string) *PluginContextBuilder {
	b.ctx.name = name
	return b
}

func (b *PluginContextBuilder) WithLogger(logger logr.Logger) *PluginContextBuilder {
	b.ctx.logger = logger
	return b
}

func (b *PluginContextBuilder) WithDockerConfig(config *docker.Config) *PluginContextBuilder {
	b.ctx.dockerConfig = config
	return b
}

func (b *PluginContextBuilder) Build() PluginContext {
	b.ctx.logger = b.ctx.logger.WithName(b.ctx.name)
	return b.ctx
}
