package section

import (
	"fmt"

	"qatmgr-go/device"
	qerrors "qatmgr-go/errors"
	"qatmgr-go/logging"
)

// BuildOptions configures a section-partitioning pass.
type BuildOptions struct {
	// Policy is the number of VFs per section. Zero means "group by PF
	// adjacency": a new section starts whenever a PF already seen in the
	// current group reappears in sorted VF order.
	Policy int
	// StaticCfg builds exactly one section holding the first Policy VFs,
	// instead of partitioning by PF adjacency or fixed VF count. Build fails
	// if Policy is not positive or fewer than Policy VFs are available; VFs
	// beyond the first Policy are not placed in any section.
	StaticCfg bool
	// Querier issues the VF2PF capability queries; nil falls back to the
	// default capability bitmask (used for hosts without a live PF driver
	// to query, e.g. in tests).
	Querier device.VF2PFQuerier
}

// Build partitions vfs into sections per opts, resolving each device's
// package id, capabilities, and service instances along the way.
func Build(vfs []device.VF, topo *device.PFTopology, cpus *device.CPUTopology, cache *device.CapabilityCache, opts BuildOptions) ([]*Section, error) {
	if len(vfs) == 0 {
		return nil, qerrors.New(qerrors.ErrSectionBuild, "build", "no VF devices available")
	}

	var sectionSizes []int
	if opts.StaticCfg {
		if opts.Policy <= 0 || len(vfs) < opts.Policy {
			return nil, qerrors.WrapWithDetail(qerrors.ErrPolicyExceedsDevices, qerrors.ErrInvalidConfig, "build",
				fmt.Sprintf("static config requires at least %d VFs, found %d", opts.Policy, len(vfs)))
		}
		sectionSizes = []int{opts.Policy}
	} else if opts.Policy == 0 {
		numGroups, counts := countVFGroups(vfs)
		if numGroups <= 0 {
			return nil, qerrors.New(qerrors.ErrSectionBuild, "build", "no VF groups found")
		}
		sectionSizes = counts
	} else {
		numSections := len(vfs) / opts.Policy
		if numSections <= 0 {
			return nil, qerrors.WrapWithDetail(qerrors.ErrPolicyExceedsDevices, qerrors.ErrInvalidConfig, "build",
				fmt.Sprintf("policy %d is greater than the number of available devices (%d)", opts.Policy, len(vfs)))
		}
		sectionSizes = make([]int, numSections)
		for i := range sectionSizes {
			sectionSizes[i] = opts.Policy
		}
	}

	sections := make([]*Section, len(sectionSizes))
	vfIdx := 0
	for i, size := range sectionSizes {
		if vfIdx+size > len(vfs) {
			size = len(vfs) - vfIdx
		}
		sec := &Section{
			Name:     fmt.Sprintf("SSL_INT_%d", i),
			BaseName: "SSL",
		}

		symCounter, asymCounter, dcCounter := 0, 0, 0
		for j := 0; j < size; j++ {
			vf := vfs[vfIdx]
			vfIdx++

			dev, err := buildDevice(vf, j, topo, cpus, cache, opts.Querier, &symCounter, &asymCounter, &dcCounter)
			if err != nil {
				return nil, qerrors.WrapWithSection(err, qerrors.ErrSectionBuild, "build device", sec.Name)
			}
			sec.Devices = append(sec.Devices, dev)
		}
		sections[i] = sec
		logging.Debug("section built", "section", sec.Name, "devices", len(sec.Devices))
	}

	return sections, nil
}

// countVFGroups scans vfs in sorted order, maintaining the set of PF keys
// seen in the current group. The first repeat of a PF key closes the
// current group and starts a new one, matching the original hash-table
// based VF-group counting algorithm.
func countVFGroups(vfs []device.VF) (int, []int) {
	seen := make(map[uint32]bool)
	numGroups := 1
	counts := []int{0}
	for _, vf := range vfs {
		key := vf.BDF.PF()
		if seen[key] {
			numGroups++
			counts = append(counts, 0)
			seen = make(map[uint32]bool)
		}
		seen[key] = true
		counts[len(counts)-1]++
	}
	return numGroups, counts
}

func buildDevice(vf device.VF, accelID int, topo *device.PFTopology, cpus *device.CPUTopology, cache *device.CapabilityCache, q device.VF2PFQuerier, symCounter, asymCounter, dcCounter *int) (Device, error) {
	pkgID, err := topo.PackageID(vf.BDF)
	if err != nil {
		return Device{}, err
	}
	if pkgID == device.PkgIDNone {
		// Guest mode: no real package topology, report the VF's local
		// accelerator index instead.
		pkgID = int16(accelID)
	}

	caps, err := device.QueryCapabilities(vf, vf.BDF.PF(), topo.VM, cache, q)
	if err != nil {
		return Device{}, qerrors.Wrap(err, qerrors.ErrCapability, "query capabilities")
	}
	if !caps.Compatible {
		return Device{}, qerrors.ErrIncompatiblePF
	}

	services := servicesMask(caps.AccelCapabilities)

	sym, asym, dc, cy, err := device.NumInstances(caps.RingToServiceMap, caps.AccelCapabilities)
	if err != nil {
		return Device{}, err
	}

	dev := Device{
		VF:                vf,
		AccelID:           accelID,
		Name:              device.QATDeviceName(device.QATDeviceType(vf.DeviceID)),
		Node:              vf.NUMANode,
		MaxBanks:          4,
		MaxRingsPerBank:   2,
		ArbMask:           0x01,
		AccelCapabilities: caps.AccelCapabilities,
		ExtCapabilities:   caps.ExtendedCapabilities,
		DeviceType:        device.QATDeviceType(vf.DeviceID),
		PkgID:             pkgID,
		Services:          services,
	}

	if cy > 0 {
		dev.CyInstances = make([]CryptoInstancePair, cy)
		for k := 0; k < asym; k++ {
			bank := device.CalculateBankNumber(device.ServiceAsym, k, caps.RingToServiceMap)
			if bank < 0 {
				return Device{}, qerrors.ErrBankNotFound
			}
			dev.CyInstances[k].Asym = Instance{
				Name:                  fmt.Sprintf("asym%d", *asymCounter),
				AccelID:               accelID,
				ServiceType:           device.ServiceAsym,
				BankNumber:            bank,
				RingTx:                0,
				RingRx:                1,
				IsPolled:              true,
				NumConcurrentRequests: 64,
				CoreAffinity:          cpus.NextAffinity(vf.NUMANode),
			}
			(*asymCounter)++
		}
		for k := 0; k < sym; k++ {
			bank := device.CalculateBankNumber(device.ServiceSym, k, caps.RingToServiceMap)
			if bank < 0 {
				return Device{}, qerrors.ErrBankNotFound
			}
			dev.CyInstances[k].Sym = Instance{
				Name:                  fmt.Sprintf("sym%d", *symCounter),
				AccelID:               accelID,
				ServiceType:           device.ServiceSym,
				BankNumber:            bank,
				RingTx:                0,
				RingRx:                1,
				IsPolled:              true,
				NumConcurrentRequests: 512,
				CoreAffinity:          cpus.NextAffinity(vf.NUMANode),
			}
			(*symCounter)++
		}
	}

	if dc > 0 {
		dev.DcInstances = make([]Instance, dc)
		for k := 0; k < dc; k++ {
			bank := device.CalculateBankNumber(device.ServiceCompression, k, caps.RingToServiceMap)
			if bank < 0 {
				return Device{}, qerrors.ErrBankNotFound
			}
			dev.DcInstances[k] = Instance{
				Name:                  fmt.Sprintf("dc%d", *dcCounter),
				AccelID:               accelID,
				ServiceType:           device.ServiceCompression,
				BankNumber:            bank,
				RingTx:                0,
				RingRx:                1,
				IsPolled:              true,
				NumConcurrentRequests: 512,
				CoreAffinity:          cpus.NextAffinity(vf.NUMANode),
			}
			(*dcCounter)++
		}
	}

	return dev, nil
}

// servicesMask derives the device.Services bitmask purely from the
// accelerator capability bits, independent of the ring-to-service map.
func servicesMask(accel uint64) uint16 {
	var m uint16
	if accel&device.CapCryptoSymmetric != 0 {
		m |= ServiceMaskSym
	}
	if accel&device.CapCryptoAsymmetric != 0 {
		m |= ServiceMaskAsym
	}
	if accel&device.CapCompression != 0 {
		m |= ServiceMaskDC
	}
	return m
}
