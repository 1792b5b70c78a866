// Package capture turns PCAP files or live interfaces into named-field
// connection records suitable for classification.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/gothreatml/pkg/dataset"
)

// window is how far back traffic statistics look when deriving rate and
// count features for a packet.
const window = 2 * time.Second

// Sample is one extracted record together with its origin address.
type Sample struct {
	Record   dataset.Record
	SourceIP string
}

// Reader reads packets from a PCAP file or a live interface.
type Reader struct {
	handle    *pcap.Handle
	extractor *extractor
}

// NewFileReader opens a PCAP file for replay.
func NewFileReader(filename string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle, extractor: newExtractor()}, nil
}

// NewLiveReader opens a network interface for live capture.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, err
	}
	return &Reader{handle: handle, extractor: newExtractor()}, nil
}

// Read drains the source and returns every extractable record.
func (r *Reader) Read() ([]Sample, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	var out []Sample
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range source.Packets() {
		if s, ok := r.extractor.extract(packet); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// Stream emits records as packets arrive until ctx is cancelled or the
// source ends.
func (r *Reader) Stream(ctx context.Context) (<-chan Sample, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan Sample, 256)
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-source.Packets():
				if !ok {
					return
				}
				s, ok := r.extractor.extract(packet)
				if !ok {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the capture handle.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// services maps well-known destination ports onto service names.
var services = map[uint16]string{
	20: "ftp", 21: "ftp",
	22: "ssh",
	25: "smtp",
	80: "http", 8080: "http", 443: "http",
}

// packetInfo is the per-packet summary the traffic tracker keeps.
type packetInfo struct {
	ts      time.Time
	srcIP   string
	dstIP   string
	dstPort uint16
	syn     bool
	rst     bool
}

// extractor derives connection-style records from individual packets,
// keeping a short history to approximate rate and count features.
type extractor struct {
	history []packetInfo
	lastTS  time.Time
}

func newExtractor() *extractor {
	return &extractor{}
}

// extract converts one packet into a record. Packets without an IPv4
// layer are skipped.
func (e *extractor) extract(packet gopacket.Packet) (Sample, bool) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return Sample{}, false
	}
	ip := ipLayer.(*layers.IPv4)

	info := packetInfo{
		srcIP: ip.SrcIP.String(),
		dstIP: ip.DstIP.String(),
	}
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		info.ts = md.Timestamp
	} else {
		info.ts = time.Now()
	}

	rec := dataset.Record{
		"duration":          0.0,
		"src_bytes":         0.0,
		"dst_bytes":         0.0,
		"land":              0,
		"wrong_fragment":    0,
		"urgent":            0,
		"num_failed_logins": 0,
		"logged_in":         0,
		"root_shell":        0,
		"su_attempted":      0,
	}

	if !e.lastTS.IsZero() && info.ts.After(e.lastTS) {
		rec["duration"] = info.ts.Sub(e.lastTS).Seconds()
	}
	e.lastTS = info.ts

	if ip.FragOffset > 0 {
		rec["wrong_fragment"] = 1
	}
	if app := packet.ApplicationLayer(); app != nil {
		rec["src_bytes"] = float64(len(app.Payload()))
	}

	var srcPort uint16
	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		rec["protocol_type"] = "tcp"
		rec["flag"] = tcpFlag(tcp)
		srcPort = uint16(tcp.SrcPort)
		info.dstPort = uint16(tcp.DstPort)
		info.syn = tcp.SYN && !tcp.ACK
		info.rst = tcp.RST
		if tcp.URG {
			rec["urgent"] = 1
		}
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		rec["protocol_type"] = "udp"
		rec["flag"] = "SF"
		srcPort = uint16(udp.SrcPort)
		info.dstPort = uint16(udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		rec["protocol_type"] = "icmp"
		rec["flag"] = "SF"
	default:
		return Sample{}, false
	}

	if svc, ok := services[info.dstPort]; ok {
		rec["service"] = svc
	} else {
		rec["service"] = "other"
	}
	if info.srcIP == info.dstIP && srcPort == info.dstPort && srcPort != 0 {
		rec["land"] = 1
	}

	e.remember(info)
	e.rates(info, rec)

	return Sample{Record: rec, SourceIP: info.srcIP}, true
}

// remember appends the packet to the history and prunes entries outside
// the statistics window.
func (e *extractor) remember(info packetInfo) {
	cutoff := info.ts.Add(-window)
	keep := e.history[:0]
	for _, p := range e.history {
		if p.ts.After(cutoff) {
			keep = append(keep, p)
		}
	}
	e.history = append(keep, info)
}

// rates fills the count and error-rate features from the recent history.
func (e *extractor) rates(info packetInfo, rec dataset.Record) {
	var srcTotal, srvTotal, srcSyn, srcRst int
	var dstTotal, dstSyn int
	for _, p := range e.history {
		if p.srcIP == info.srcIP {
			srcTotal++
			if p.dstPort == info.dstPort {
				srvTotal++
			}
			if p.syn {
				srcSyn++
			}
			if p.rst {
				srcRst++
			}
		}
		if p.dstIP == info.dstIP {
			dstTotal++
			if p.syn {
				dstSyn++
			}
		}
	}

	rec["count"] = srcTotal
	rec["srv_count"] = srvTotal
	rec["serror_rate"] = ratio(srcSyn, srcTotal)
	rec["rerror_rate"] = ratio(srcRst, srcTotal)
	rec["dst_host_serror_rate"] = ratio(dstSyn, dstTotal)
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// tcpFlag reduces a TCP header to the coarse connection flags the
// classifier was trained on.
func tcpFlag(tcp *layers.TCP) string {
	switch {
	case tcp.RST && tcp.ACK:
		return "RSTR"
	case tcp.RST:
		return "REJ"
	case tcp.SYN && !tcp.ACK:
		return "S0"
	default:
		return "SF"
	}
}
