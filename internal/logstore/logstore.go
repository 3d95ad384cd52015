// Package logstore manages the router's append-only message and ack
// logs: messages-<epoch>.jsonl / acks-<epoch>.jsonl, segmented by
// epoch and iterated in numerical order. Closed segments (every epoch
// but the current one) are gzip-compacted to <name>.jsonl.gz; readers
// decompress transparently.
package logstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
)

var (
	messageRe = regexp.MustCompile(`^messages-(\d+)\.jsonl(\.gz)?$`)
	ackRe     = regexp.MustCompile(`^acks-(\d+)\.jsonl(\.gz)?$`)
)

// AppendMessageEvent appends a message log record, defaulting
// event="message" if absent.
func AppendMessageEvent(l layout.Layout, epoch int, record map[string]any) error {
	rec := withEvent(record, "message")
	return jsonio.AppendLine(l.MessagesLogPath(epoch), rec)
}

// AppendAckEvent appends an ack log record, defaulting event="ack" if
// absent.
func AppendAckEvent(l layout.Layout, epoch int, record map[string]any) error {
	rec := withEvent(record, "ack")
	return jsonio.AppendLine(l.AcksLogPath(epoch), rec)
}

func withEvent(record map[string]any, event string) map[string]any {
	if _, ok := record["event"]; ok {
		return record
	}
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out["event"] = event
	return out
}

// segment is a single log file on disk, possibly gzip-compressed.
type segment struct {
	epoch int
	path  string
}

func listSegments(dir string, re *regexp.Regexp) ([]segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var segs []segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		epoch, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		segs = append(segs, segment{epoch: epoch, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].epoch < segs[j].epoch })
	return segs, nil
}

// ListMessageLogs returns message log segments in ascending epoch order.
func ListMessageLogs(l layout.Layout) ([]segment, error) {
	return listSegments(l.LogsDir(), messageRe)
}

// ListAckLogs returns ack log segments in ascending epoch order.
func ListAckLogs(l layout.Layout) ([]segment, error) {
	return listSegments(l.LogsDir(), ackRe)
}

// IterMessageEvents streams message events across every segment in
// epoch order.
func IterMessageEvents(l layout.Layout, fn func(map[string]any) error) error {
	segs, err := ListMessageLogs(l)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := iterSegment(s.path, fn); err != nil {
			return err
		}
	}
	return nil
}

// IterAckEvents streams ack events across every segment in epoch order.
func IterAckEvents(l layout.Layout, fn func(map[string]any) error) error {
	segs, err := ListAckLogs(l)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := iterSegment(s.path, fn); err != nil {
			return err
		}
	}
	return nil
}

func iterSegment(path string, fn func(map[string]any) error) error {
	if filepath.Ext(path) == ".gz" {
		return iterGzipSegment(path, fn)
	}
	return jsonio.IterLines(path, fn)
}

func iterGzipSegment(path string, fn func(map[string]any) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip reader %s: %w", path, err)
	}
	defer gr.Close()

	scanner := bufio.NewScanner(gr)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// CompactClosedSegments gzip-compresses every message/ack log segment
// whose epoch is strictly less than currentEpoch and that is not
// already compressed. It is safe to call on every startup: segments
// already compacted are left untouched, and a segment with no
// existing plain file is skipped.
func CompactClosedSegments(l layout.Layout, currentEpoch int) error {
	segs, err := ListMessageLogs(l)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s.epoch < currentEpoch && filepath.Ext(s.path) != ".gz" {
			if err := compactFile(s.path); err != nil {
				return err
			}
		}
	}
	segs, err = ListAckLogs(l)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s.epoch < currentEpoch && filepath.Ext(s.path) != ".gz" {
			if err := compactFile(s.path); err != nil {
				return err
			}
		}
	}
	return nil
}

func compactFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	gzPath := path + ".gz"
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("gzip writer for %s: %w", path, err)
	}
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return fmt.Errorf("gzip write %s: %w", path, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("gzip close %s: %w", path, err)
	}

	if err := os.WriteFile(gzPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", gzPath, err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
