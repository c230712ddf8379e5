package partitioner

import (
	"context"

	"github.com/quanganh2627/platform-bootable-iago/internal/pipeline"
)

// Plugin wires the discovery, layout, and execute logic above into the
// driver's Plugin/Preparer/CLISessioner/Executor interfaces (spec
// §4.3). It is always registered first so every later plugin can rely
// on `partition.*`/`base:install_disk`/`base:install_id` being set.
type Plugin struct {
	ctx context.Context
}

// New constructs the partitioner plugin. ctx bounds every external
// tool invocation the plugin makes (ntfsresize); cmd/iago passes the
// process's root context.
func New(ctx context.Context) *Plugin {
	return &Plugin{ctx: ctx}
}

func (p *Plugin) Name() string { return "partitioner" }

func (p *Plugin) Prepare(s pipeline.Stores) error {
	interactive := s.Options.GetDefault("base:cli", "0") == "1"
	return DiscoverDisks(p.ctx, s.Options, interactive)
}

func (p *Plugin) CLISession(s pipeline.Stores) error {
	return PlanLayout(s.Options)
}

func (p *Plugin) Execute(s pipeline.Stores) error {
	return Apply(p.ctx, s)
}
