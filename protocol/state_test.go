package protocol

import (
	"testing"

	"qatmgr-go/device"
	"qatmgr-go/section"
)

func TestObservePID_ForkReleasesInheritedSection(t *testing.T) {
	reg := section.NewRegistry([]*section.Section{{Name: "SSL_INT_0", BaseName: "SSL"}})
	topo, err := device.BuildPFTopology(nil)
	if err != nil {
		t.Fatalf("BuildPFTopology: %v", err)
	}
	b := NewBroker(reg, nil, topo)

	cs := newClientState()
	idx, name, err := reg.Acquire(100)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	cs.sectionIndex = idx
	cs.sectionName = name
	cs.pid = 100

	// Simulate a fork: same connection, new pid observed on the next request.
	b.observePID(cs, 200)

	if cs.sectionIndex != -1 {
		t.Fatalf("expected fork to clear inherited section, got index %d", cs.sectionIndex)
	}
	if cs.pid != 200 {
		t.Fatalf("pid = %d, want 200", cs.pid)
	}

	// The section must now be free for a fresh acquire.
	if _, _, err := reg.Acquire(300); err != nil {
		t.Fatalf("expected section freed after fork, Acquire failed: %v", err)
	}
}

func TestObservePID_SamePIDDoesNotReleaseSection(t *testing.T) {
	reg := section.NewRegistry([]*section.Section{{Name: "SSL_INT_0", BaseName: "SSL"}})
	topo, _ := device.BuildPFTopology(nil)
	b := NewBroker(reg, nil, topo)

	cs := newClientState()
	idx, name, _ := reg.Acquire(100)
	cs.sectionIndex = idx
	cs.sectionName = name
	cs.pid = 100

	b.observePID(cs, 100)

	if cs.sectionIndex != idx {
		t.Fatalf("expected section retained across same-pid requests, got index %d", cs.sectionIndex)
	}
}
