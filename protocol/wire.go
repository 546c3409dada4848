// Package protocol implements the qatmgr wire codec and request dispatch:
// a fixed 8-byte header followed by a fixed-size payload overlay, framed as
// length-prefixed messages over a Unix domain socket.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType identifies a request or response payload layout.
type MsgType uint16

const (
	MsgSectionGet   MsgType = 1
	MsgSectionPut   MsgType = 2
	MsgNumDevices   MsgType = 3
	MsgDeviceInfo   MsgType = 4
	MsgDeviceID     MsgType = 5
	msgReserved     MsgType = 6
	MsgInstanceInfo MsgType = 7
	MsgInstanceName MsgType = 8
	MsgVFIOFile     MsgType = 9
	MsgNumPFDevs    MsgType = 10
	MsgPFDevInfo    MsgType = 11
	MsgUnknown      MsgType = 998
	MsgBad          MsgType = 999
)

// ServType is the request-side service-kind selector for INSTANCE_INFO and
// INSTANCE_NAME, matching the original's bitmask enum serv_type.
type ServType uint16

const (
	ServDC   ServType = 1 << 0
	ServSym  ServType = 1 << 1
	ServAsym ServType = 1 << 2
	ServCY            = ServSym | ServAsym
)

func (s ServType) String() string {
	switch s {
	case ServDC:
		return "dc"
	case ServSym:
		return "sym"
	case ServAsym:
		return "asym"
	case ServCY:
		return "cy"
	default:
		return fmt.Sprintf("serv(%d)", uint16(s))
	}
}

// ServerVersion is the protocol version this broker speaks, encoded as
// (major<<8)|minor. Responses always carry this value, never the request's.
const ServerVersion uint16 = 0x0100

// MaxStrLen bounds every fixed ASCII string field (names, paths, error text).
const MaxStrLen = 256

// DeviceNameSize bounds the device/instance friendly-name fields.
const DeviceNameSize = 64

// HeaderSize is the wire size of Header, always present before any payload.
const HeaderSize = 8

// Header is the 8-byte frame prefix common to every request and response.
// Encoded little-endian throughout, matching the host byte order of every
// platform QAT actually targets (x86_64).
type Header struct {
	Len     uint16
	Version uint16
	Type    MsgType
	Filler  uint16
}

func (h Header) encode(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, h.Len)
	binary.Write(buf, binary.LittleEndian, h.Version)
	binary.Write(buf, binary.LittleEndian, uint16(h.Type))
	binary.Write(buf, binary.LittleEndian, h.Filler)
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("short header: %d bytes", len(b))
	}
	return Header{
		Len:     binary.LittleEndian.Uint16(b[0:2]),
		Version: binary.LittleEndian.Uint16(b[2:4]),
		Type:    MsgType(binary.LittleEndian.Uint16(b[4:6])),
		Filler:  binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// InstRequest selects a service kind, instance ordinal, and device for
// INSTANCE_INFO/INSTANCE_NAME, matching the request union's "inst" member.
type InstRequest struct {
	Type      ServType
	Num       uint16
	DeviceNum uint16
}

// Request is the decoded, tagged form of qatmgr_msg_req: exactly one of the
// fields is meaningful, selected by Header.Type (the "tagged variant"
// replacement for the original's C union, per the wire-compatibility note
// that the bytes on the wire keep the union's layout even though the Go
// struct does not).
type Request struct {
	Header    Header
	Name      string // SECTION_GET (sent, ignored), SECTION_PUT
	DeviceNum uint16 // DEVICE_INFO, DEVICE_ID, VFIO_FILE, PF_DEV_INFO
	Inst      InstRequest
}

// requestPayloadSize returns the expected payload length (excluding the header) for
// a request of the given type, or -1 if the type is not a known request.
func requestPayloadSize(t MsgType) int {
	switch t {
	case MsgNumDevices, MsgNumPFDevs:
		return 0
	case MsgSectionGet, MsgSectionPut:
		return MaxStrLen
	case MsgDeviceInfo, MsgDeviceID, MsgVFIOFile, MsgPFDevInfo:
		return 2 // uint16 device_num
	case MsgInstanceInfo, MsgInstanceName:
		return 8 // enum serv_type (4 bytes) + 2x uint16, see decodeRequest
	default:
		return -1
	}
}

// decodeRequest parses a full frame (header + payload) per msg type. The
// inst sub-struct is encoded as type uint32 (the original's enum serv_type,
// a plain int in C), num uint16, device_num uint16 (8 bytes).
func decodeRequest(frame []byte) (Request, error) {
	hdr, err := decodeHeader(frame)
	if err != nil {
		return Request{}, err
	}
	payload := frame[HeaderSize:]
	req := Request{Header: hdr}

	switch hdr.Type {
	case MsgSectionGet:
		if len(payload) < MaxStrLen {
			return Request{}, fmt.Errorf("short SECTION_GET payload: %d", len(payload))
		}
		req.Name = cString(payload[:MaxStrLen])
	case MsgSectionPut:
		// SECTION_PUT's name is carried in the same field position as
		// SECTION_GET on the original wire (both use req.name). A short
		// payload decodes with an empty name; Dispatch's length check
		// rejects it.
		if len(payload) >= MaxStrLen {
			req.Name = cString(payload[:MaxStrLen])
		}
	case MsgNumDevices, MsgNumPFDevs:
		// no payload
	case MsgDeviceInfo, MsgDeviceID, MsgVFIOFile, MsgPFDevInfo:
		if len(payload) < 2 {
			return Request{}, fmt.Errorf("short device_num payload: %d", len(payload))
		}
		req.DeviceNum = binary.LittleEndian.Uint16(payload[:2])
	case MsgInstanceInfo, MsgInstanceName:
		if len(payload) < 8 {
			return Request{}, fmt.Errorf("short inst payload: %d", len(payload))
		}
		req.Inst = InstRequest{
			Type:      ServType(binary.LittleEndian.Uint32(payload[0:4])),
			Num:       binary.LittleEndian.Uint16(payload[4:6]),
			DeviceNum: binary.LittleEndian.Uint16(payload[6:8]),
		}
	default:
		// Unrecognized type: header decodes fine, dispatch will reply
		// UNKNOWN without examining the payload.
	}
	return req, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// putCString writes s NUL-padded/truncated into a field of exactly n bytes.
func putCString(buf *bytes.Buffer, s string, n int) {
	b := make([]byte, n)
	copy(b, s) // copy truncates to n bytes; a string of n or more bytes leaves no NUL terminator
	buf.Write(b)
}

// RingInfo mirrors struct ring_info: one service instance's ring-bank
// assignment and scheduling parameters.
type RingInfo struct {
	AccelID               uint16
	BankNumber            uint16
	IsPolled              uint16
	CoreAffinity          uint16
	NumConcurrentRequests uint16
	RingTx                uint16
	RingRx                uint16
}

func (r RingInfo) encode(buf *bytes.Buffer) {
	for _, v := range []uint16{r.AccelID, r.BankNumber, r.IsPolled, r.CoreAffinity, r.NumConcurrentRequests, r.RingTx, r.RingRx} {
		binary.Write(buf, binary.LittleEndian, v)
	}
}

// DeviceInfo mirrors the device_info response payload.
type DeviceInfo struct {
	DeviceNum             uint16
	DeviceType            uint16
	DevicePCIID           uint16
	CapabilityMask        uint32
	ExtendedCapabilities  uint32
	MaxBanks              uint16
	MaxRingsPerBank       uint16
	ArbMask               uint16
	Services              uint16
	PkgID                 int16
	NodeID                uint16
	NumCyInstances        uint16
	NumDcInstances        uint16
	DeviceName            string
}

func (d DeviceInfo) encode(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, d.DeviceNum)
	binary.Write(buf, binary.LittleEndian, d.DeviceType)
	binary.Write(buf, binary.LittleEndian, d.DevicePCIID)
	binary.Write(buf, binary.LittleEndian, d.CapabilityMask)
	binary.Write(buf, binary.LittleEndian, d.ExtendedCapabilities)
	binary.Write(buf, binary.LittleEndian, d.MaxBanks)
	binary.Write(buf, binary.LittleEndian, d.MaxRingsPerBank)
	binary.Write(buf, binary.LittleEndian, d.ArbMask)
	binary.Write(buf, binary.LittleEndian, d.Services)
	binary.Write(buf, binary.LittleEndian, d.PkgID)
	binary.Write(buf, binary.LittleEndian, d.NodeID)
	binary.Write(buf, binary.LittleEndian, d.NumCyInstances)
	binary.Write(buf, binary.LittleEndian, d.NumDcInstances)
	putCString(buf, d.DeviceName, DeviceNameSize)
}

// CyInstanceInfo mirrors the cy half of the instance_info response union:
// both ring sides plus the aggregated is_polled flag.
type CyInstanceInfo struct {
	Sym, Asym RingInfo
	IsPolled  uint32
}

// VFIOFileInfo mirrors the vfio_file response payload.
type VFIOFileInfo struct {
	FD   int16
	Name string
}

func (v VFIOFileInfo) encode(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, v.FD)
	putCString(buf, v.Name, MaxStrLen)
}

// Response is the decoded, tagged form of qatmgr_msg_rsp.
type Response struct {
	Header    Header
	Name      string // SECTION_GET, INSTANCE_NAME
	NumDev    uint16 // NUM_DEVICES, NUM_PF_DEVS
	Device    DeviceInfo
	DeviceID  string
	VFIOFile  VFIOFileInfo
	CyInfo    CyInstanceInfo
	DcInfo    RingInfo
	IsDCInst  bool // selects DcInfo vs CyInfo within an INSTANCE_INFO response
	ErrText   string // BAD
}

// Encode renders a Response to its wire frame: header followed by the
// payload selected by Header.Type. The header's Len field is filled in
// here from the actual encoded size; Filler is always transmitted as the
// reserved zero value.
func Encode(r Response) []byte {
	var payload bytes.Buffer
	switch r.Header.Type {
	case MsgSectionGet, MsgInstanceName:
		putCString(&payload, r.Name, MaxStrLen)
	case MsgSectionPut, MsgUnknown:
		// empty
	case MsgBad:
		putCString(&payload, r.ErrText, MaxStrLen)
	case MsgNumDevices, MsgNumPFDevs:
		binary.Write(&payload, binary.LittleEndian, r.NumDev)
	case MsgDeviceInfo:
		r.Device.encode(&payload)
	case MsgDeviceID:
		putCString(&payload, r.DeviceID, MaxStrLen)
	case MsgVFIOFile:
		r.VFIOFile.encode(&payload)
	case MsgInstanceInfo:
		if r.IsDCInst {
			r.DcInfo.encode(&payload)
		} else {
			r.CyInfo.Sym.encode(&payload)
			r.CyInfo.Asym.encode(&payload)
			binary.Write(&payload, binary.LittleEndian, r.CyInfo.IsPolled)
		}
	case MsgPFDevInfo:
		putCString(&payload, r.DeviceID, MaxStrLen)
	}

	var frame bytes.Buffer
	hdr := r.Header
	hdr.Filler = 0
	hdr.Len = uint16(HeaderSize + payload.Len())
	hdr.encode(&frame)
	frame.Write(payload.Bytes())
	return frame.Bytes()
}
