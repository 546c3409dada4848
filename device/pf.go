package device

import (
	"fmt"
	"path/filepath"
)

// sysfsPCIDevices is a package var so tests can point it at a fake tree.
var sysfsPCIDevices = "/sys/bus/pci/devices"

// PFTopology resolves the physical-function a VF belongs to and assigns
// each distinct PF a package id, matching the original's linear pf_data[]
// scan. It is built once at startup (or lazily, on first PF-related
// protocol request) and is immutable afterwards.
type PFTopology struct {
	pfs []PF
	// byKey maps a VF's PF() packed key to an index into pfs.
	byKey map[uint32]int
	// VM is true when no PF could be resolved for any VF: the host is
	// itself a guest directly passed QAT VFs, and package topology is
	// meaningless.
	VM bool
}

// resolvePF reads /sys/bus/pci/devices/<vf>/physfn/uevent for the
// PCI_SLOT_NAME line identifying the VF's parent PF, mirroring bdf_pf.
func resolvePF(vf BDF) (BDF, error) {
	uevent := filepath.Join(sysfsPCIDevices, vf.String(), "physfn", "uevent")
	pf, err := readPCISlotName(uevent)
	if err != nil {
		return BDF{}, fmt.Errorf("resolve physfn for %s: %w", vf, err)
	}
	// The physfn/uevent PCI_SLOT_NAME carries its own domain; keep it as
	// parsed rather than forcing the VF's domain, in case of multi-domain
	// hosts.
	return pf, nil
}

// BuildPFTopology resolves every VF's parent PF and assigns package ids in
// first-seen (sorted-VF) order. If resolution fails for every VF the host
// is assumed to be a guest and VM mode is reported.
func BuildPFTopology(vfs []VF) (*PFTopology, error) {
	t := &PFTopology{byKey: make(map[uint32]int)}

	resolved := 0
	for _, vf := range vfs {
		pfBDF, err := resolvePF(vf.BDF)
		if err != nil {
			continue
		}
		resolved++
		key := pfBDF.PF()
		if _, ok := t.byKey[key]; ok {
			continue
		}
		t.byKey[key] = len(t.pfs)
		t.pfs = append(t.pfs, PF{BDF: pfBDF, PkgID: int16(len(t.pfs))})
	}

	if resolved == 0 {
		t.VM = true
	}
	return t, nil
}

// PackageID returns the package id for the PF owning vf. In VM mode it
// always returns PkgIDNone; callers then fall back to the VF's local
// accelerator index within its section.
func (t *PFTopology) PackageID(vf BDF) (int16, error) {
	if t.VM {
		return PkgIDNone, nil
	}
	pfBDF, err := resolvePF(vf)
	if err != nil {
		return 0, fmt.Errorf("package id for %s: %w", vf, err)
	}
	idx, ok := t.byKey[pfBDF.PF()]
	if !ok {
		return 0, fmt.Errorf("package id for %s: pf %s not in topology", vf, pfBDF)
	}
	return t.pfs[idx].PkgID, nil
}

// NumPFs returns the number of distinct physical functions resolved.
func (t *PFTopology) NumPFs() int { return len(t.pfs) }

// PFs returns the resolved PF list in package-id order.
func (t *PFTopology) PFs() []PF { return t.pfs }
