// Package device discovers QAT virtual functions passed through VFIO and
// resolves their physical-function topology, capabilities, and NUMA-aware
// CPU affinity.
package device

import "fmt"

// BDF is a PCI domain:bus:device.function address.
type BDF struct {
	Domain   uint32
	Bus      uint32
	Device   uint32
	Function uint32
}

// String renders the BDF in standard "dddd:bb:dd.f" form.
func (b BDF) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%d", b.Domain, b.Bus, b.Device, b.Function)
}

// PF returns the packed (bus, domain) key used to index the per-PF
// capability cache, mirroring the original qat_mgr's PF(bdf) macro.
func (b BDF) PF() uint32 {
	return b.Bus + (b.Domain << 8)
}

// ParseBDF parses a "dddd:bb:dd.f" string into a BDF.
func ParseBDF(s string) (BDF, error) {
	var b BDF
	_, err := fmt.Sscanf(s, "%x:%x:%x.%x", &b.Domain, &b.Bus, &b.Device, &b.Function)
	if err != nil {
		return BDF{}, fmt.Errorf("parse bdf %q: %w", s, err)
	}
	return b, nil
}

// Supported QAT vendor/device identifiers.
const (
	VendorIntel = 0x8086

	DeviceID4xxxVF   = 0x4941
	DeviceID401xxVF  = 0x4943
	DeviceID402xxVF  = 0x4945
	DeviceID420xxVF  = 0x4947
)

// DeviceType enumerates the generations of QAT accelerator this broker
// understands.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	Device4xxxVF
	Device401xxVF
	Device402xxVF
	Device420xxVF
)

// IsQATDevice reports whether a PCI device id belongs to a supported QAT VF.
func IsQATDevice(deviceID uint16) bool {
	switch deviceID {
	case DeviceID4xxxVF, DeviceID401xxVF, DeviceID402xxVF, DeviceID420xxVF:
		return true
	default:
		return false
	}
}

// QATDeviceType classifies a PCI device id into a DeviceType.
func QATDeviceType(deviceID uint16) DeviceType {
	switch deviceID {
	case DeviceID4xxxVF:
		return Device4xxxVF
	case DeviceID401xxVF:
		return Device401xxVF
	case DeviceID402xxVF:
		return Device402xxVF
	case DeviceID420xxVF:
		return Device420xxVF
	default:
		return DeviceTypeUnknown
	}
}

// QATDeviceName returns the canonical short name for a device type, used in
// device_info responses.
func QATDeviceName(t DeviceType) string {
	switch t {
	case Device4xxxVF:
		return "4xxxvf"
	case Device401xxVF:
		return "401xxvf"
	case Device402xxVF:
		return "402xxvf"
	case Device420xxVF:
		return "420xxvf"
	default:
		return "unknown"
	}
}

// PkgIDNone is the sentinel package id reported when the host itself is a
// guest and has no real PF package topology to report.
const PkgIDNone int16 = -1 // 0xFFFF as int16

// VF is a single discovered virtual function, still unattached to any
// section.
type VF struct {
	BDF        BDF
	DeviceID   uint16
	DeviceFile string // e.g. /dev/vfio/42
	GroupFD    int
	NUMANode   int
}

// PF describes a physical function's package placement on the host.
type PF struct {
	BDF   BDF
	PkgID int16
}

// Capabilities is the result of querying a VF's PF over the VF2PF control
// channel: compatibility, ring-to-service decoding, and the accelerator
// capability bitmap.
type Capabilities struct {
	Compatible           bool
	RingToServiceMap     uint32
	AccelCapabilities    uint64
	ExtendedCapabilities uint64
}

// Accelerator capability bits, as reported over the VF2PF channel. Only the
// subset this broker inspects is named; unrecognised bits are preserved but
// not individually decoded.
const (
	CapCryptoSymmetric  uint64 = 1 << 0
	CapCryptoAsymmetric uint64 = 1 << 1
	CapCompression      uint64 = 1 << 2
	CapCipher           uint64 = 1 << 3
	CapAuthentication   uint64 = 1 << 4
	CapSHA3             uint64 = 1 << 5
	CapSHA3Ext          uint64 = 1 << 6
	CapHKDF             uint64 = 1 << 7
	CapEcEdMont         uint64 = 1 << 8
	CapChaChaPoly       uint64 = 1 << 9
	CapAESGCMSpc        uint64 = 1 << 10
	CapAESV2            uint64 = 1 << 11
)

// ServiceType identifies a ring-to-service map entry or a service instance.
type ServiceType int

const (
	ServiceUnused ServiceType = iota
	ServiceCrypto
	ServiceCompression
	ServiceSym
	ServiceAsym
	ServiceUsed
)

// Ring-to-service map layout: four 3-bit fields starting at bit 0, each
// RingPairShift bits wide.
const (
	RingPairShift = 3
	ServiceMask   = 0x7
	InstancesPerDevice = 4
)

// DecodeRingToServiceMap extracts the service type assigned to ring-pair i
// (0..InstancesPerDevice-1).
func DecodeRingToServiceMap(m uint32, i int) ServiceType {
	return ServiceType((m >> uint(i*RingPairShift)) & ServiceMask)
}
