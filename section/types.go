// Package section partitions discovered QAT VFs into admin-policy-sized
// sections and tracks which client currently holds each one.
package section

import "qatmgr-go/device"

// Instance is a single service instance (sym, asym, or dc) bound to a ring
// bank on a device.
type Instance struct {
	Name                  string
	AccelID               int
	ServiceType           device.ServiceType
	BankNumber            int
	RingTx, RingRx        uint16
	IsPolled              bool
	NumConcurrentRequests int
	CoreAffinity          int
}

// CryptoInstancePair couples an asym and a sym instance that share a
// ring-bank index, matching the original's cy_instance_data layout.
type CryptoInstancePair struct {
	Asym, Sym Instance
}

// Device is a single VF's fully-resolved view within a section: its VFIO
// identity plus derived capability, topology, and service-instance data.
type Device struct {
	VF                device.VF
	AccelID           int // index within the section, not the global enumeration index
	Name              string
	Node              int
	MaxBanks          int
	MaxRingsPerBank   int
	ArbMask           uint32
	AccelCapabilities uint64
	ExtCapabilities   uint64
	DeviceType        device.DeviceType
	PkgID             int16
	Services          uint16
	CyInstances       []CryptoInstancePair
	DcInstances       []Instance
}

// Service mask bits reported in Device.Services, matching the original's
// SERV_TYPE_* flags.
const (
	ServiceMaskDC   uint16 = 1 << 0
	ServiceMaskSym  uint16 = 1 << 1
	ServiceMaskAsym uint16 = 1 << 2
	ServiceMaskCY          = ServiceMaskSym | ServiceMaskAsym
)

// Section is a partition of devices assigned to one admin policy unit, held
// by at most one client process at a time.
type Section struct {
	Name        string
	BaseName    string
	AssignedPID int32 // 0 means free
	Devices     []Device
}
