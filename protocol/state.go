package protocol

import (
	"sync"

	"qatmgr-go/device"
	qerrors "qatmgr-go/errors"
	"qatmgr-go/section"
)

// Broker holds every piece of shared, mostly-read-only state the protocol
// server dispatches requests against: the section registry built at
// startup, plus the PF topology, which may instead be resolved lazily on
// first NUM_PF_DEVS/PF_DEV_INFO request if nothing else has needed it yet.
type Broker struct {
	Registry *section.Registry

	vfs   []device.VF
	mu    sync.Mutex // guards lazy PF topology init only
	topo  *device.PFTopology
	inited bool
}

// NewBroker wraps an already-built registry. vfs is retained only to
// support lazy PF-topology initialization.
func NewBroker(reg *section.Registry, vfs []device.VF, topo *device.PFTopology) *Broker {
	b := &Broker{Registry: reg, vfs: vfs, topo: topo}
	if topo != nil {
		b.inited = true
	}
	return b
}

// pfTopology returns the broker's PF topology, resolving it lazily on first
// use if startup never populated it (NUM_PF_DEVS/PF_DEV_INFO requests may
// arrive before anything else has needed PF data).
func (b *Broker) pfTopology() (*device.PFTopology, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return b.topo, nil
	}
	topo, err := device.BuildPFTopology(b.vfs)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrInternal, "lazy PF topology init")
	}
	b.topo = topo
	b.inited = true
	return topo, nil
}

// clientState is per-connection: the section it currently holds (if any)
// and the pid last observed issuing a request on that connection, used for
// fork detection.
type clientState struct {
	pid          int32
	sectionIndex int // -1 means none held
	sectionName  string
}

func newClientState() *clientState {
	return &clientState{sectionIndex: -1}
}

// observePID implements fork detection: if the connection's peer pid
// changes between requests (the process on the other end forked and the
// child inherited the fd), any section the old pid held is released before
// the new request is processed.
func (b *Broker) observePID(cs *clientState, pid int32) {
	if cs.pid != 0 && cs.pid != pid && cs.sectionIndex >= 0 {
		b.Registry.Release(cs.sectionIndex, cs.pid, cs.sectionName)
		cs.sectionIndex = -1
		cs.sectionName = ""
	}
	cs.pid = pid
}
