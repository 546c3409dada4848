package protocol

import (
	"testing"

	"qatmgr-go/device"
	"qatmgr-go/section"
)

func testBroker(t *testing.T, sections []*section.Section) *Broker {
	t.Helper()
	reg := section.NewRegistry(sections)
	topo, err := device.BuildPFTopology(nil) // empty -> VM mode topology, NumPFs()==0
	if err != nil {
		t.Fatalf("BuildPFTopology: %v", err)
	}
	return NewBroker(reg, nil, topo)
}

func oneDeviceSection() []*section.Section {
	return []*section.Section{
		{
			Name:     "SSL_INT_0",
			BaseName: "SSL",
			Devices: []section.Device{
				{
					Name:     "0000:3d:01.0",
					Services: section.ServiceMaskSym | section.ServiceMaskAsym,
					CyInstances: []section.CryptoInstancePair{
						{
							Sym:  section.Instance{Name: "sym0", BankNumber: 1},
							Asym: section.Instance{Name: "asym0", BankNumber: 0},
						},
					},
					DcInstances: []section.Instance{
						{Name: "dc0", BankNumber: 2},
					},
				},
			},
		},
	}
}

func TestDispatch_WrongVersionReturnsBadWithServerVersion(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()

	req := Request{Header: Header{Version: 0x0202, Type: MsgSectionGet, Len: HeaderSize + MaxStrLen}}
	resp := Dispatch(b, cs, req)

	if resp.Header.Type != MsgBad {
		t.Fatalf("Type = %d, want MsgBad", resp.Header.Type)
	}
	if resp.Header.Version != ServerVersion {
		t.Fatalf("Version = %#x, want server's own %#x", resp.Header.Version, ServerVersion)
	}
}

func TestDispatch_InconsistentLength(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()

	req := Request{Header: Header{Version: ServerVersion, Type: MsgSectionGet, Len: HeaderSize + 1}}
	resp := Dispatch(b, cs, req)
	if resp.Header.Type != MsgBad {
		t.Fatalf("Type = %d, want MsgBad", resp.Header.Type)
	}
}

func TestDispatch_SectionGetThenContention(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	clientA := newClientState()
	clientA.pid = 1
	clientB := newClientState()
	clientB.pid = 2

	getReq := Request{Header: Header{Version: ServerVersion, Type: MsgSectionGet, Len: HeaderSize + MaxStrLen}}

	respA := Dispatch(b, clientA, getReq)
	if respA.Header.Type != MsgSectionGet || respA.Name != "SSL_INT_0" {
		t.Fatalf("respA = %+v, want SECTION_GET SSL_INT_0", respA)
	}

	respB := Dispatch(b, clientB, getReq)
	if respB.Header.Type != MsgBad {
		t.Fatalf("respB.Type = %d, want MsgBad (no section available)", respB.Header.Type)
	}

	putReq := Request{Header: Header{Version: ServerVersion, Type: MsgSectionPut, Len: HeaderSize + MaxStrLen}}
	putReq.Name = "SSL_INT_0"
	if resp := Dispatch(b, clientA, putReq); resp.Header.Type != MsgSectionPut {
		t.Fatalf("put resp = %+v, want MsgSectionPut", resp)
	}

	respB2 := Dispatch(b, clientB, getReq)
	if respB2.Header.Type != MsgSectionGet || respB2.Name != "SSL_INT_0" {
		t.Fatalf("respB2 = %+v, want successful retry", respB2)
	}
}

func TestDispatch_InfoBeforeGetIsInvalidIndex(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()

	req := Request{Header: Header{Version: ServerVersion, Type: MsgNumDevices, Len: HeaderSize}}
	resp := Dispatch(b, cs, req)
	if resp.Header.Type != MsgBad {
		t.Fatalf("Type = %d, want MsgBad", resp.Header.Type)
	}
}

func TestDispatch_DeviceInfoAndInstanceName(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()
	cs.pid = 5

	getReq := Request{Header: Header{Version: ServerVersion, Type: MsgSectionGet, Len: HeaderSize + MaxStrLen}}
	Dispatch(b, cs, getReq)

	numReq := Request{Header: Header{Version: ServerVersion, Type: MsgNumDevices, Len: HeaderSize}}
	numResp := Dispatch(b, cs, numReq)
	if numResp.NumDev != 1 {
		t.Fatalf("NumDev = %d, want 1", numResp.NumDev)
	}

	nameReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceName, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServCY, Num: 0, DeviceNum: 0},
	}
	nameResp := Dispatch(b, cs, nameReq)
	// Services == {sym, asym}: neither exactly {asym} nor {asym, dc}, so sym is canonical.
	if nameResp.Name != "sym0" {
		t.Fatalf("CY instance name = %q, want sym0", nameResp.Name)
	}

	dcReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceName, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServDC, Num: 0, DeviceNum: 0},
	}
	dcResp := Dispatch(b, cs, dcReq)
	if dcResp.Name != "dc0" {
		t.Fatalf("DC instance name = %q, want dc0", dcResp.Name)
	}
}

func TestDispatch_SymAndAsymOnlyInstanceQueries(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()
	cs.pid = 6

	getReq := Request{Header: Header{Version: ServerVersion, Type: MsgSectionGet, Len: HeaderSize + MaxStrLen}}
	Dispatch(b, cs, getReq)

	symNameReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceName, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServSym, Num: 0, DeviceNum: 0},
	}
	if resp := Dispatch(b, cs, symNameReq); resp.Name != "sym0" {
		t.Fatalf("SYM instance name = %q, want sym0", resp.Name)
	}

	asymNameReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceName, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServAsym, Num: 0, DeviceNum: 0},
	}
	if resp := Dispatch(b, cs, asymNameReq); resp.Name != "asym0" {
		t.Fatalf("ASYM instance name = %q, want asym0", resp.Name)
	}

	symInfoReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceInfo, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServSym, Num: 0, DeviceNum: 0},
	}
	symInfoResp := Dispatch(b, cs, symInfoReq)
	if symInfoResp.Header.Type != MsgInstanceInfo || symInfoResp.CyInfo.Sym.BankNumber != 1 {
		t.Fatalf("SYM instance info = %+v, want bank 1", symInfoResp.CyInfo.Sym)
	}
	if symInfoResp.CyInfo.Asym != (RingInfo{}) {
		t.Fatalf("SYM instance info leaked asym side: %+v", symInfoResp.CyInfo.Asym)
	}

	asymInfoReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceInfo, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServAsym, Num: 0, DeviceNum: 0},
	}
	asymInfoResp := Dispatch(b, cs, asymInfoReq)
	if asymInfoResp.Header.Type != MsgInstanceInfo || asymInfoResp.CyInfo.Asym.BankNumber != 0 {
		t.Fatalf("ASYM instance info = %+v, want bank 0", asymInfoResp.CyInfo.Asym)
	}

	// Only one sym and one asym instance exist on this device: index 1 is
	// out of range for both.
	badSymReq := Request{
		Header: Header{Version: ServerVersion, Type: MsgInstanceName, Len: HeaderSize + 8},
		Inst:   InstRequest{Type: ServSym, Num: 1, DeviceNum: 0},
	}
	if resp := Dispatch(b, cs, badSymReq); resp.Header.Type != MsgBad {
		t.Fatalf("Type = %d, want MsgBad for out-of-range SYM instance", resp.Header.Type)
	}
}

func TestCyIsAsymCanonical(t *testing.T) {
	cases := []struct {
		services uint16
		want     bool
	}{
		{section.ServiceMaskAsym, true},
		{section.ServiceMaskAsym | section.ServiceMaskDC, true},
		{section.ServiceMaskSym | section.ServiceMaskAsym, false},
		{section.ServiceMaskSym, false},
	}
	for _, c := range cases {
		if got := cyIsAsymCanonical(c.services); got != c.want {
			t.Errorf("cyIsAsymCanonical(%b) = %v, want %v", c.services, got, c.want)
		}
	}
}

func TestDispatch_UnknownMessageType(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	cs := newClientState()

	req := Request{Header: Header{Version: ServerVersion, Type: MsgType(12345), Len: HeaderSize}}
	resp := Dispatch(b, cs, req)
	if resp.Header.Type != MsgUnknown {
		t.Fatalf("Type = %d, want MsgUnknown", resp.Header.Type)
	}
}

func TestDispatch_NumPFDevsLazyInit(t *testing.T) {
	b := testBroker(t, oneDeviceSection())
	b.inited = false // force lazy path even though testBroker already built one
	cs := newClientState()

	req := Request{Header: Header{Version: ServerVersion, Type: MsgNumPFDevs, Len: HeaderSize}}
	resp := Dispatch(b, cs, req)
	if resp.Header.Type != MsgNumPFDevs {
		t.Fatalf("Type = %d, want MsgNumPFDevs", resp.Header.Type)
	}
}
