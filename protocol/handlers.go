package protocol

import (
	"fmt"

	qerrors "qatmgr-go/errors"
	"qatmgr-go/section"
)

// Dispatch runs req against b on behalf of cs, returning the response to
// send back. It never returns a Go error: every failure is represented as
// a BAD or UNKNOWN response, per the protocol's "errors never corrupt
// server state" policy.
func Dispatch(b *Broker, cs *clientState, req Request) Response {
	if req.Header.Version != ServerVersion {
		return badVersion(req.Header.Version)
	}

	expected := requestPayloadSize(req.Header.Type)
	if expected < 0 {
		return unknown()
	}
	if int(req.Header.Len) != HeaderSize+expected {
		return bad(req.Header.Type, "Inconsistent length")
	}

	switch req.Header.Type {
	case MsgSectionGet:
		return handleSectionGet(b, cs)
	case MsgSectionPut:
		return handleSectionPut(b, cs, req)
	case MsgNumDevices:
		return handleNumDevices(b, cs)
	case MsgDeviceInfo:
		return handleDeviceInfo(b, cs, req)
	case MsgDeviceID:
		return handleDeviceID(b, cs, req)
	case MsgVFIOFile:
		return handleVFIOFile(b, cs, req)
	case MsgInstanceInfo:
		return handleInstanceInfo(b, cs, req)
	case MsgInstanceName:
		return handleInstanceName(b, cs, req)
	case MsgNumPFDevs:
		return handleNumPFDevs(b)
	case MsgPFDevInfo:
		return handlePFDevInfo(b, req)
	default:
		return unknown()
	}
}

func okHeader(t MsgType) Header {
	return Header{Version: ServerVersion, Type: t}
}

func bad(reqType MsgType, format string, args ...interface{}) Response {
	return Response{Header: okHeader(MsgBad), ErrText: fmt.Sprintf(format, args...)}
}

func badVersion(clientVersion uint16) Response {
	text := fmt.Sprintf("Version mismatch: server %d.%d, client %d.%d",
		ServerVersion>>8, ServerVersion&0xff, clientVersion>>8, clientVersion&0xff)
	return Response{Header: okHeader(MsgBad), ErrText: text}
}

func unknown() Response {
	return Response{Header: okHeader(MsgUnknown)}
}

func handleSectionGet(b *Broker, cs *clientState) Response {
	if cs.sectionIndex >= 0 {
		return bad(MsgSectionGet, "Section already allocated.")
	}
	idx, name, err := b.Registry.Acquire(cs.pid)
	if err != nil {
		return bad(MsgSectionGet, "No section available.")
	}
	cs.sectionIndex = idx
	cs.sectionName = name
	return Response{Header: okHeader(MsgSectionGet), Name: name}
}

func handleSectionPut(b *Broker, cs *clientState, req Request) Response {
	if cs.sectionIndex < 0 {
		return bad(MsgSectionPut, "Section not allocated.")
	}
	if err := b.Registry.Release(cs.sectionIndex, cs.pid, req.Name); err != nil {
		if qerrors.Is(err, qerrors.ErrSectionNameMismatch) || qerrors.Is(err, qerrors.ErrSectionNotAssigned) {
			return bad(MsgSectionPut, "Name/tid mismatch.")
		}
		return bad(MsgSectionPut, "%v", err)
	}
	cs.sectionIndex = -1
	cs.sectionName = ""
	return Response{Header: okHeader(MsgSectionPut)}
}

func heldSection(b *Broker, cs *clientState) (section.Section, error) {
	if cs.sectionIndex < 0 {
		return section.Section{}, qerrors.New(qerrors.ErrInvalidState, "require held section", "Invalid index.")
	}
	return b.Registry.Get(cs.sectionIndex)
}

func handleNumDevices(b *Broker, cs *clientState) Response {
	sec, err := heldSection(b, cs)
	if err != nil {
		return bad(MsgNumDevices, "Invalid index.")
	}
	return Response{Header: okHeader(MsgNumDevices), NumDev: uint16(len(sec.Devices))}
}

func deviceAt(b *Broker, cs *clientState, num uint16) (section.Device, error) {
	sec, err := heldSection(b, cs)
	if err != nil {
		return section.Device{}, err
	}
	if int(num) >= len(sec.Devices) {
		return section.Device{}, qerrors.New(qerrors.ErrInvalidState, "device lookup", "index out of range")
	}
	return sec.Devices[num], nil
}

func handleDeviceInfo(b *Broker, cs *clientState, req Request) Response {
	dev, err := deviceAt(b, cs, req.DeviceNum)
	if err != nil {
		return bad(MsgDeviceInfo, "Index out of range.")
	}
	info := DeviceInfo{
		DeviceNum:            req.DeviceNum,
		DeviceType:           uint16(dev.DeviceType),
		DevicePCIID:          dev.VF.DeviceID,
		CapabilityMask:       uint32(dev.AccelCapabilities),
		ExtendedCapabilities: uint32(dev.ExtCapabilities),
		MaxBanks:             uint16(dev.MaxBanks),
		MaxRingsPerBank:      uint16(dev.MaxRingsPerBank),
		ArbMask:              uint16(dev.ArbMask),
		Services:             dev.Services,
		PkgID:                dev.PkgID,
		NodeID:               uint16(dev.Node),
		NumCyInstances:       uint16(len(dev.CyInstances)),
		NumDcInstances:       uint16(len(dev.DcInstances)),
		DeviceName:           dev.Name,
	}
	return Response{Header: okHeader(MsgDeviceInfo), Device: info}
}

func handleDeviceID(b *Broker, cs *clientState, req Request) Response {
	dev, err := deviceAt(b, cs, req.DeviceNum)
	if err != nil {
		return bad(MsgDeviceID, "Index out of range.")
	}
	return Response{Header: okHeader(MsgDeviceID), DeviceID: dev.VF.BDF.String()}
}

func handleVFIOFile(b *Broker, cs *clientState, req Request) Response {
	dev, err := deviceAt(b, cs, req.DeviceNum)
	if err != nil {
		return bad(MsgVFIOFile, "Index out of range.")
	}
	return Response{Header: okHeader(MsgVFIOFile), VFIOFile: VFIOFileInfo{
		FD:   int16(dev.VF.GroupFD),
		Name: dev.VF.DeviceFile,
	}}
}

// cyIsAsymCanonical implements the INSTANCE_NAME/INSTANCE_INFO CY dispatch
// rule: the asym half is canonical when the device's service mask is
// exactly {asym} or {asym, dc}; the sym half is canonical otherwise.
func cyIsAsymCanonical(services uint16) bool {
	return services == section.ServiceMaskAsym || services == (section.ServiceMaskAsym|section.ServiceMaskDC)
}

// numSymInstances and numAsymInstances count the populated sym/asym halves
// within a device's crypto-instance pairs, matching the original's separate
// num_sym_inst/num_asym_inst counters: a pair's Sym or Asym side is unset
// (zero-value, empty Name) when that side has fewer instances than the
// other.
func numSymInstances(pairs []section.CryptoInstancePair) int {
	n := 0
	for _, p := range pairs {
		if p.Sym.Name != "" {
			n++
		}
	}
	return n
}

func numAsymInstances(pairs []section.CryptoInstancePair) int {
	n := 0
	for _, p := range pairs {
		if p.Asym.Name != "" {
			n++
		}
	}
	return n
}

func instanceRingInfo(inst section.Instance) RingInfo {
	return RingInfo{
		AccelID:               uint16(inst.AccelID),
		BankNumber:            uint16(inst.BankNumber),
		IsPolled:              boolU16(inst.IsPolled),
		CoreAffinity:          uint16(inst.CoreAffinity),
		NumConcurrentRequests: uint16(inst.NumConcurrentRequests),
		RingTx:                inst.RingTx,
		RingRx:                inst.RingRx,
	}
}

func boolU16(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}

func handleInstanceInfo(b *Broker, cs *clientState, req Request) Response {
	dev, err := deviceAt(b, cs, req.Inst.DeviceNum)
	if err != nil {
		return bad(MsgInstanceInfo, "Index out of range.")
	}
	switch req.Inst.Type {
	case ServDC:
		if int(req.Inst.Num) >= len(dev.DcInstances) {
			return bad(MsgInstanceInfo, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceInfo), IsDCInst: true,
			DcInfo: instanceRingInfo(dev.DcInstances[req.Inst.Num])}
	case ServCY:
		if int(req.Inst.Num) >= len(dev.CyInstances) {
			return bad(MsgInstanceInfo, "Bad inst number.")
		}
		pair := dev.CyInstances[req.Inst.Num]
		isPolled := uint32(0)
		if pair.Sym.IsPolled || pair.Asym.IsPolled {
			isPolled = 1
		}
		return Response{Header: okHeader(MsgInstanceInfo), IsDCInst: false, CyInfo: CyInstanceInfo{
			Sym:      instanceRingInfo(pair.Sym),
			Asym:     instanceRingInfo(pair.Asym),
			IsPolled: isPolled,
		}}
	case ServSym:
		if int(req.Inst.Num) >= numSymInstances(dev.CyInstances) {
			return bad(MsgInstanceInfo, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceInfo), IsDCInst: false, CyInfo: CyInstanceInfo{
			Sym: instanceRingInfo(dev.CyInstances[req.Inst.Num].Sym),
		}}
	case ServAsym:
		if int(req.Inst.Num) >= numAsymInstances(dev.CyInstances) {
			return bad(MsgInstanceInfo, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceInfo), IsDCInst: false, CyInfo: CyInstanceInfo{
			Asym: instanceRingInfo(dev.CyInstances[req.Inst.Num].Asym),
		}}
	default:
		return bad(MsgInstanceInfo, "Unknown service kind.")
	}
}

func handleInstanceName(b *Broker, cs *clientState, req Request) Response {
	dev, err := deviceAt(b, cs, req.Inst.DeviceNum)
	if err != nil {
		return bad(MsgInstanceName, "Index out of range.")
	}
	switch req.Inst.Type {
	case ServDC:
		if int(req.Inst.Num) >= len(dev.DcInstances) {
			return bad(MsgInstanceName, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceName), Name: dev.DcInstances[req.Inst.Num].Name}
	case ServCY:
		if int(req.Inst.Num) >= len(dev.CyInstances) {
			return bad(MsgInstanceName, "Bad inst number.")
		}
		pair := dev.CyInstances[req.Inst.Num]
		if cyIsAsymCanonical(dev.Services) {
			return Response{Header: okHeader(MsgInstanceName), Name: pair.Asym.Name}
		}
		return Response{Header: okHeader(MsgInstanceName), Name: pair.Sym.Name}
	case ServSym:
		if int(req.Inst.Num) >= numSymInstances(dev.CyInstances) {
			return bad(MsgInstanceName, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceName), Name: dev.CyInstances[req.Inst.Num].Sym.Name}
	case ServAsym:
		if int(req.Inst.Num) >= numAsymInstances(dev.CyInstances) {
			return bad(MsgInstanceName, "Bad inst number.")
		}
		return Response{Header: okHeader(MsgInstanceName), Name: dev.CyInstances[req.Inst.Num].Asym.Name}
	default:
		return bad(MsgInstanceName, "Unknown service kind.")
	}
}

func handleNumPFDevs(b *Broker) Response {
	topo, err := b.pfTopology()
	if err != nil {
		return bad(MsgNumPFDevs, "PF topology init failed.")
	}
	return Response{Header: okHeader(MsgNumPFDevs), NumDev: uint16(topo.NumPFs())}
}

func handlePFDevInfo(b *Broker, req Request) Response {
	topo, err := b.pfTopology()
	if err != nil {
		return bad(MsgPFDevInfo, "PF topology init failed.")
	}
	if int(req.DeviceNum) >= topo.NumPFs() {
		return bad(MsgPFDevInfo, "Index out of range.")
	}
	pf := topo.PFs()[req.DeviceNum]
	return Response{Header: okHeader(MsgPFDevInfo), DeviceID: pf.BDF.String()}
}
