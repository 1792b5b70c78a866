package capture

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTCP(t *testing.T, src, dst string, srcPort, dstPort uint16, mod func(*layers.TCP)) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src),
		DstIP:    net.ParseIP(dst),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		ACK:     true,
	}
	if mod != nil {
		mod(tcp)
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp,
		gopacket.Payload([]byte("GET / HTTP/1.1\r\n"))))

	pkt := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	pkt.Metadata().Timestamp = time.Now()
	return pkt
}

func TestExtractTCP(t *testing.T) {
	e := newExtractor()

	s, ok := e.extract(buildTCP(t, "10.0.0.5", "10.0.0.9", 40000, 80, nil))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", s.SourceIP)
	assert.Equal(t, "tcp", s.Record["protocol_type"])
	assert.Equal(t, "http", s.Record["service"])
	assert.Equal(t, "SF", s.Record["flag"])
	assert.Equal(t, float64(16), s.Record["src_bytes"])
	assert.Equal(t, 1, s.Record["count"])
	assert.Equal(t, 0, s.Record["land"])
}

func TestExtractFlags(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*layers.TCP)
		want string
	}{
		{name: "established", mod: nil, want: "SF"},
		{name: "syn only", mod: func(tcp *layers.TCP) { tcp.ACK = false; tcp.SYN = true }, want: "S0"},
		{name: "reset", mod: func(tcp *layers.TCP) { tcp.ACK = false; tcp.RST = true }, want: "REJ"},
		{name: "reset ack", mod: func(tcp *layers.TCP) { tcp.RST = true }, want: "RSTR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExtractor()
			s, ok := e.extract(buildTCP(t, "10.0.0.5", "10.0.0.9", 40000, 22, tt.mod))
			require.True(t, ok)
			assert.Equal(t, tt.want, s.Record["flag"])
			assert.Equal(t, "ssh", s.Record["service"])
		})
	}
}

func TestExtractRates(t *testing.T) {
	e := newExtractor()

	// A burst of SYN-only probes from the same host.
	var last Sample
	for i := 0; i < 10; i++ {
		s, ok := e.extract(buildTCP(t, "10.0.0.5", "10.0.0.9", 40000, 80,
			func(tcp *layers.TCP) { tcp.ACK = false; tcp.SYN = true }))
		require.True(t, ok)
		last = s
	}

	assert.Equal(t, 10, last.Record["count"])
	assert.Equal(t, 10, last.Record["srv_count"])
	assert.Equal(t, 1.0, last.Record["serror_rate"])
	assert.Equal(t, 0.0, last.Record["rerror_rate"])
	assert.Equal(t, 1.0, last.Record["dst_host_serror_rate"])
}

func TestExtractUnknownService(t *testing.T) {
	e := newExtractor()
	s, ok := e.extract(buildTCP(t, "10.0.0.5", "10.0.0.9", 40000, 31337, nil))
	require.True(t, ok)
	assert.Equal(t, "other", s.Record["service"])
}

func TestExtractSkipsNonIP(t *testing.T) {
	e := newExtractor()

	arp := gopacket.NewPacket([]byte{0, 1, 2, 3}, layers.LayerTypeARP, gopacket.Default)
	_, ok := e.extract(arp)
	assert.False(t, ok)
}
