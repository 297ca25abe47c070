// Package telemetry samples per-device I/O statistics on the device under
// test while a run is in progress.
package telemetry

import (
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is one device row of an extended iostat report.
type Sample struct {
	Device     string  `json:"device"`
	ReadIOPS   float64 `json:"read_iops"`
	WriteIOPS  float64 `json:"write_iops"`
	ReadMBps   float64 `json:"read_mbps"`
	WriteMBps  float64 `json:"write_mbps"`
	ReadAwait  float64 `json:"read_await_ms"`
	WriteAwait float64 `json:"write_await_ms"`
	QueueSize  float64 `json:"queue_size"`
	Util       float64 `json:"util"`
}

// column lists header names in order of preference with a scale applied to
// the parsed value.
type column struct {
	name  string
	scale float64
}

var (
	colReadIOPS   = []column{{"r/s", 1}, {"rio/s", 1}}
	colWriteIOPS  = []column{{"w/s", 1}, {"wio/s", 1}}
	colReadMBps   = []column{{"rMB/s", 1}, {"rkB/s", 1.0 / 1024}, {"rsec/s", 512.0 / 1024 / 1024}}
	colWriteMBps  = []column{{"wMB/s", 1}, {"wkB/s", 1.0 / 1024}, {"wsec/s", 512.0 / 1024 / 1024}}
	colReadAwait  = []column{{"r_await", 1}, {"await", 1}}
	colWriteAwait = []column{{"w_await", 1}, {"await", 1}}
	colQueue      = []column{{"aqu-sz", 1}, {"avgqu-sz", 1}}
	colUtil       = []column{{"%util", 1}}
)

// Parser builds samples from iostat output fed line by line. Column positions
// come from the most recent header row, so reordered or missing columns are
// tolerated; a missing column reads as zero.
type Parser struct {
	devices map[string]bool
	header  map[string]int
	batch   []Sample
}

// NewParser keeps only the listed devices; an empty list keeps all of them.
// Devices may be given as names or /dev paths.
func NewParser(devices []string) *Parser {
	p := &Parser{}
	for _, d := range devices {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if p.devices == nil {
			p.devices = make(map[string]bool)
		}
		p.devices[filepath.Base(d)] = true
	}
	return p
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && (fields[0] == "Device" || fields[0] == "Device:")
}

// Feed consumes one line and returns a completed batch when the line closes
// an interval report.
func (p *Parser) Feed(line string) ([]Sample, bool) {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 0:
		return p.flush()
	case isHeader(fields):
		batch, ok := p.flush()
		p.header = make(map[string]int, len(fields))
		for i, name := range fields {
			p.header[name] = i
		}
		return batch, ok
	case p.header == nil:
		// banner line before the first header
		return nil, false
	}

	s := Sample{Device: fields[0]}
	if p.devices != nil && !p.devices[s.Device] {
		return nil, false
	}
	s.ReadIOPS = p.value(fields, colReadIOPS)
	s.WriteIOPS = p.value(fields, colWriteIOPS)
	s.ReadMBps = p.value(fields, colReadMBps)
	s.WriteMBps = p.value(fields, colWriteMBps)
	s.ReadAwait = p.value(fields, colReadAwait)
	s.WriteAwait = p.value(fields, colWriteAwait)
	s.QueueSize = p.value(fields, colQueue)
	s.Util = p.value(fields, colUtil)
	p.batch = append(p.batch, s)
	return nil, false
}

// Flush returns any samples not yet closed by a blank line or header.
func (p *Parser) Flush() ([]Sample, bool) {
	return p.flush()
}

func (p *Parser) flush() ([]Sample, bool) {
	if len(p.batch) == 0 {
		return nil, false
	}
	batch := p.batch
	p.batch = nil
	return batch, true
}

func (p *Parser) value(fields []string, cols []column) float64 {
	for _, c := range cols {
		i, ok := p.header[c.name]
		if !ok || i >= len(fields) {
			continue
		}
		v, err := strconv.ParseFloat(strings.Replace(fields[i], ",", ".", 1), 64)
		if err != nil {
			return 0
		}
		return v * c.scale
	}
	return 0
}
