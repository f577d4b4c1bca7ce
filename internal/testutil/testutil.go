// Package testutil provides fixtures shared by the sensor and CLI tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// CaptureStart is the timestamp of the first packet written by WritePCAP.
var CaptureStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// HostIP is the destination address of every captured datagram.
var HostIP = net.IPv4(192, 168, 1, 5).To4()

// Datagram is one UDP payload sent from a sensor.
type Datagram struct {
	SrcIP   net.IP
	SrcPort int
	DstPort int
	Payload []byte
}

// WriteFile writes body to name under a fresh temporary directory and
// returns the path.
func WriteFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// WritePCAP writes datagrams as an Ethernet capture with packets spaced
// gap apart and returns its path.
func WritePCAP(t *testing.T, gap time.Duration, datagrams []Datagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write capture header: %v", err)
	}
	for i, d := range datagrams {
		data := EncodeDatagram(t, d)
		ci := gopacket.CaptureInfo{
			Timestamp:     CaptureStart.Add(time.Duration(i) * gap),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet %d: %v", i, err)
		}
	}
	return path
}

// EncodeDatagram serializes d as an Ethernet/IPv4/UDP frame.
func EncodeDatagram(t *testing.T, d Datagram) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x1b, 0x21, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    d.SrcIP,
		DstIP:    HostIP,
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(d.SrcPort), DstPort: layers.UDPPort(d.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("udp checksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.Payload)); err != nil {
		t.Fatalf("serialize datagram: %v", err)
	}
	return buf.Bytes()
}
