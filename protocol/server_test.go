package protocol

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"qatmgr-go/device"
	"qatmgr-go/section"
)

func TestServer_SectionGetRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "qatmgr.sock")

	reg := section.NewRegistry([]*section.Section{{Name: "SSL_INT_0", BaseName: "SSL"}})
	topo, err := device.BuildPFTopology(nil)
	if err != nil {
		t.Fatalf("BuildPFTopology: %v", err)
	}
	broker := NewBroker(reg, nil, topo)

	srv := &Server{SocketPath: sockPath, Broker: broker}
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var frame bytes.Buffer
	hdr := Header{Version: ServerVersion, Type: MsgSectionGet}
	hdr.Len = uint16(HeaderSize + MaxStrLen)
	hdr.encode(&frame)
	putCString(&frame, "", MaxStrLen)

	if _, err := conn.Write(frame.Bytes()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	respHdr := make([]byte, HeaderSize)
	if _, err := readFullConn(conn, respHdr); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	h, err := decodeHeader(respHdr)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if h.Type != MsgSectionGet {
		t.Fatalf("response type = %d, want MsgSectionGet", h.Type)
	}
	if h.Version != ServerVersion {
		t.Fatalf("response version = %#x, want %#x", h.Version, ServerVersion)
	}

	payload := make([]byte, int(h.Len)-HeaderSize)
	if _, err := readFullConn(conn, payload); err != nil {
		t.Fatalf("read response payload: %v", err)
	}
	if name := cString(payload); name != "SSL_INT_0" {
		t.Fatalf("assigned section name = %q, want SSL_INT_0", name)
	}
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
