package device

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	qerrors "qatmgr-go/errors"
	"qatmgr-go/logging"
)

// vfioRoot and iommuGroupDevDir are package vars (rather than consts) so
// tests can point enumeration at a fake sysfs/devfs tree.
var (
	vfioRoot         = "/dev/vfio"
	iommuGroupDevDir = "/sys/kernel/iommu_groups"
)

const vfioControlEntry = "vfio"

// EnumerateOptions configures a Device Enumerator pass.
type EnumerateOptions struct {
	// KeepFD keeps each discovered group's file descriptor open (needed for
	// the real broker; test/diagnostic callers may pass false and rely only
	// on the metadata).
	KeepFD bool
	// Limit stops enumeration once this many devices have been found. Zero
	// means unlimited.
	Limit int
}

// Enumerate walks /dev/vfio and the iommu_groups sysfs tree, returning every
// usable QAT VF sorted by (function, device, bus) ascending, matching the
// original broker's bdf_compare ordering.
func Enumerate(ctx context.Context, opts EnumerateOptions) ([]VF, error) {
	devVfioDir, err := os.Open(vfioRoot)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrEnumeration, "open vfio root")
	}
	defer devVfioDir.Close()

	entries, err := devVfioDir.Readdirnames(-1)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrEnumeration, "read vfio root")
	}
	sort.Strings(entries)

	var vfs []VF
	for _, group := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if len(group) == 0 || group[0] == '.' || group == vfioControlEntry {
			continue
		}
		if opts.Limit > 0 && len(vfs) >= opts.Limit {
			break
		}

		vf, ok, err := probeGroup(group, opts.KeepFD)
		if err != nil {
			logging.Warn("skipping vfio group", "group", group, "error", err)
			continue
		}
		if !ok {
			continue
		}
		vfs = append(vfs, vf)
	}

	if len(vfs) == 0 {
		logging.Info("no QAT devices found")
	}

	sort.Slice(vfs, func(i, j int) bool { return bdfLess(vfs[i].BDF, vfs[j].BDF) })
	return vfs, nil
}

// bdfLess implements the original bdf_compare ordering: primary key
// function ascending, then device ascending, then bus ascending.
func bdfLess(a, b BDF) bool {
	if a.Function != b.Function {
		return a.Function < b.Function
	}
	if a.Device != b.Device {
		return a.Device < b.Device
	}
	return a.Bus < b.Bus
}

// probeGroup inspects a single /dev/vfio/<group> entry. A group that cannot
// be opened (likely already assigned to a guest) is skipped, not fatal.
func probeGroup(group string, keepFD bool) (VF, bool, error) {
	groupPath := filepath.Join(vfioRoot, group)

	f, err := openWithLinkCheck(groupPath, unix.O_RDWR)
	if err != nil {
		return VF{}, false, nil // busy/assigned to guest: silent skip
	}
	// Duplicate the descriptor so it stays open after f (and its finalizer)
	// is gone.
	fd := -1
	if keepFD {
		fd, err = unix.Dup(int(f.Fd()))
		if err != nil {
			f.Close()
			return VF{}, false, err
		}
	}
	f.Close()

	devicesDir := filepath.Join(iommuGroupDevDir, group, "devices")
	dir, err := openDirWithLinkCheck(devicesDir)
	if err != nil {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, err
	}
	defer dir.Close()

	children, err := dir.Readdirnames(-1)
	if err != nil {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, err
	}
	if len(children) == 0 {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, nil
	}
	if len(children) > 1 {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, qerrors.ErrMultipleDevicesInGroup
	}

	devBDFStr := children[0]
	devDir := filepath.Join(devicesDir, devBDFStr)

	deviceID, err := readHexAttr(filepath.Join(devDir, "device"))
	if err != nil {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, err
	}
	if !IsQATDevice(uint16(deviceID)) {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, nil
	}

	vendorID, err := readHexAttr(filepath.Join(devDir, "vendor"))
	if err != nil {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, err
	}
	if vendorID != VendorIntel {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, nil
	}

	bdf, err := ParseBDF(devBDFStr)
	if err != nil {
		if keepFD {
			unix.Close(fd)
		}
		return VF{}, false, err
	}

	node, err := readIntAttr(filepath.Join(devDir, "numa_node"))
	if err != nil || node < 0 {
		node = 0
	}

	vf := VF{
		BDF:        bdf,
		DeviceID:   uint16(deviceID),
		DeviceFile: groupPath,
		GroupFD:    fd,
		NUMANode:   node,
	}
	return vf, true, nil
}

// IsDeviceAvailable is a lightweight probe that reports whether any VFIO
// group holds a QAT device, stopping at the first one found.
func IsDeviceAvailable() bool {
	devVfioDir, err := os.Open(vfioRoot)
	if err != nil {
		return false
	}
	defer devVfioDir.Close()

	entries, err := devVfioDir.Readdirnames(-1)
	if err != nil {
		return false
	}
	for _, group := range entries {
		if len(group) == 0 || group[0] == '.' || group == vfioControlEntry {
			continue
		}
		if vf, ok, err := probeGroup(group, false); err == nil && ok {
			_ = vf
			return true
		}
	}
	return false
}
