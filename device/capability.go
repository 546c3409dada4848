package device

import (
	"sync"

	qerrors "qatmgr-go/errors"
)

// DefaultAccelCapabilities is the fallback capability bitmask used before
// any VF2PF query succeeds, matching the original broker's hard-coded
// default (every VF is provisionally assumed to support the full crypto
// and compression feature set until a real query says otherwise).
const DefaultAccelCapabilities = CapCryptoSymmetric | CapCryptoAsymmetric |
	CapCipher | CapAuthentication | CapCompression | CapSHA3 | CapSHA3Ext | CapHKDF |
	CapEcEdMont | CapChaChaPoly | CapAESGCMSpc | CapAESV2

// VF2PFQuerier issues the three VF2PF control-channel queries the original
// broker performs, in order: a compatibility-version handshake, the
// ring-to-service map, and the capability bitmap. Production wiring talks
// to the PF driver over the VF's mapped mailbox registers; tests supply a
// fake.
type VF2PFQuerier interface {
	CheckCompatVersion(vf VF) (compatible bool, err error)
	RingToServiceMap(vf VF) (uint32, error)
	AccelCapabilities(vf VF) (accel uint64, ext uint64, err error)
}

// CapabilityCache caches per-PF capability query results, keyed by the PF's
// packed (bus, domain) key, so that multiple VFs belonging to the same PF
// only pay the VF2PF round trip once. Guarded by a mutex since the section
// builder may populate it concurrently for devices across sections.
type CapabilityCache struct {
	mu    sync.Mutex
	byPF  map[uint32]Capabilities
}

// NewCapabilityCache returns an empty cache.
func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{byPF: make(map[uint32]Capabilities)}
}

func (c *CapabilityCache) lookup(pfKey uint32) (Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	caps, ok := c.byPF[pfKey]
	return caps, ok
}

func (c *CapabilityCache) store(pfKey uint32, caps Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPF[pfKey] = caps
}

// QueryCapabilities resolves the capabilities for vf's owning PF, consulting
// the cache first (only in host mode: a VM has no stable PF to key on).
// On a successful live query the asymmetric-crypto post-processing fix is
// applied: if the capability bitmap reports asymmetric crypto, EcEdMont is
// force-set, matching the original's observed hardware behavior.
func QueryCapabilities(vf VF, pfKey uint32, vm bool, cache *CapabilityCache, q VF2PFQuerier) (Capabilities, error) {
	if !vm {
		if caps, ok := cache.lookup(pfKey); ok {
			return caps, nil
		}
	}

	if q == nil {
		// Default ring-to-service map: asym, sym, asym, sym on ring pairs 0..3.
		return Capabilities{
			Compatible: true,
			RingToServiceMap: uint32(ServiceAsym) | uint32(ServiceSym)<<RingPairShift |
				uint32(ServiceAsym)<<(2*RingPairShift) | uint32(ServiceSym)<<(3*RingPairShift),
			AccelCapabilities: DefaultAccelCapabilities,
		}, nil
	}

	compatible, err := q.CheckCompatVersion(vf)
	if err != nil || !compatible {
		return Capabilities{Compatible: false}, err
	}

	ringMap, err := q.RingToServiceMap(vf)
	if err != nil {
		return Capabilities{Compatible: false}, err
	}

	accel, ext, err := q.AccelCapabilities(vf)
	if err != nil {
		return Capabilities{Compatible: false}, err
	}
	if accel&CapCryptoAsymmetric != 0 {
		accel |= CapEcEdMont
	}

	caps := Capabilities{
		Compatible:           true,
		RingToServiceMap:     ringMap,
		AccelCapabilities:    accel,
		ExtendedCapabilities: ext,
	}
	if !vm {
		cache.store(pfKey, caps)
	}
	return caps, nil
}

// CalculateBankNumber returns the ring-pair index (bank number) of the nth
// (instIdx-th, zero-based) occurrence of svc within the ring-to-service map,
// or -1 if fewer than instIdx+1 occurrences exist.
func CalculateBankNumber(svc ServiceType, instIdx int, ringToServiceMap uint32) int {
	found := 0
	for i := 0; i < InstancesPerDevice; i++ {
		if DecodeRingToServiceMap(ringToServiceMap, i) == svc {
			if found == instIdx {
				return i
			}
			found++
		}
	}
	return -1
}

// NumInstances derives the sym/asym/dc/cy instance counts for a device from
// its ring-to-service map, gated against its accelerator capability bits,
// matching get_num_instances.
func NumInstances(ringToServiceMap uint32, accelCapabilities uint64) (sym, asym, dc, cy int, err error) {
	for i := 0; i < InstancesPerDevice; i++ {
		switch DecodeRingToServiceMap(ringToServiceMap, i) {
		case ServiceSym:
			if accelCapabilities&CapCryptoSymmetric != 0 {
				sym++
			}
		case ServiceAsym:
			if accelCapabilities&CapCryptoAsymmetric != 0 {
				asym++
			}
		case ServiceCompression:
			if accelCapabilities&CapCompression != 0 {
				dc++
			}
		default:
			return 0, 0, 0, 0, qerrors.ErrUnknownService
		}
	}
	switch {
	case sym == InstancesPerDevice || asym == InstancesPerDevice:
		cy = InstancesPerDevice
	case sym == 2 || asym == 2:
		cy = 2
	}
	return sym, asym, dc, cy, nil
}
