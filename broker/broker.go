// Package broker wires device discovery, section partitioning, and the
// protocol server together into the running qatmgr-go process.
package broker

import (
	"context"
	"fmt"

	"qatmgr-go/device"
	"qatmgr-go/logging"
	"qatmgr-go/protocol"
	"qatmgr-go/section"
)

// Options configures a broker run.
type Options struct {
	SocketPath string
	Policy     int
	StaticCfg  bool
	Debug      bool
	// Querier issues VF2PF control-channel queries. Nil means no live PF
	// driver transport is wired (the spec leaves this collaborator
	// unspecified); every device then gets the fallback capability bitmask,
	// same as guest mode.
	Querier device.VF2PFQuerier
}

// Run discovers devices, partitions them into sections, and serves the
// protocol server until ctx is canceled.
func Run(ctx context.Context, opts Options) error {
	vfs, err := device.Enumerate(ctx, device.EnumerateOptions{KeepFD: true})
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	if len(vfs) == 0 {
		logging.Warn("no QAT accelerators found on this host")
	}

	topo, err := device.BuildPFTopology(vfs)
	if err != nil {
		return fmt.Errorf("build PF topology: %w", err)
	}

	cpus := device.NewCPUTopology()
	cache := device.NewCapabilityCache()

	var sections []*section.Section
	if len(vfs) > 0 {
		sections, err = section.Build(vfs, topo, cpus, cache, section.BuildOptions{
			Policy:    opts.Policy,
			StaticCfg: opts.StaticCfg,
			Querier:   opts.Querier,
		})
		if err != nil {
			return fmt.Errorf("build sections: %w", err)
		}
	}
	logging.Info("sections built", "count", len(sections), "devices", len(vfs))

	reg := section.NewRegistry(sections)
	b := protocol.NewBroker(reg, vfs, topo)

	srv := &protocol.Server{SocketPath: opts.SocketPath, Broker: b, Debug: opts.Debug}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logging.Info("listening", "socket", opts.SocketPath)

	return srv.Serve(ctx)
}
