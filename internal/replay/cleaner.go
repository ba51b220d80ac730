package replay

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rigidsync/broker/internal/logging"
)

// RetentionPolicy bounds how many archived packets stay on disk and for how long. Zero disables a
// bound.
type RetentionPolicy struct {
	MaxPackets int
	MaxAge     time.Duration
}

// StorageStats summarises the archive root after a sweep.
type StorageStats struct {
	Packets   int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Cleaner prunes archive bundles and loose packet files under a root directory.
type Cleaner struct {
	root   string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time

	mu    sync.RWMutex
	stats StorageStats
}

// NewCleaner constructs a cleaner for the provided archive root.
func NewCleaner(root string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{root: root, policy: policy, log: logger.With(logging.String("archive_root", root)), now: time.Now}
}

// storedPacket is one retention unit: an archive directory, or a loose packet file with its
// optional companion header.
type storedPacket struct {
	name     string
	paths    []string
	bytes    int64
	recorded time.Time
}

// RunOnce performs a single sweep, logging rather than returning failures.
func (c *Cleaner) RunOnce() {
	if _, err := c.Sweep(); err != nil {
		c.log.Warn("replay retention sweep failed", logging.Error(err))
	}
}

// Sweep applies the policy once and returns the footprint of what survived.
func (c *Cleaner) Sweep() (StorageStats, error) {
	if c == nil || strings.TrimSpace(c.root) == "" {
		return StorageStats{}, nil
	}
	packets, err := c.scan()
	if err != nil {
		return StorageStats{}, err
	}
	now := c.now()
	stats := StorageStats{LastSweep: now}
	var errs error
	for _, packet := range packets {
		reason := c.expired(packet, now, stats.Packets)
		if reason == "" {
			stats.Packets++
			stats.Bytes += packet.bytes
			continue
		}
		//1.- A packet that cannot be removed still occupies the disk and counts as kept.
		if err := removeAll(packet.paths); err != nil {
			errs = errors.Join(errs, fmt.Errorf("remove %s: %w", packet.name, err))
			stats.Packets++
			stats.Bytes += packet.bytes
			continue
		}
		stats.Removed++
		c.log.Info("replay retention removed packet", logging.String("packet", packet.name), logging.String("reason", reason))
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return stats, errs
}

// Stats returns the footprint recorded by the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cleaner) expired(packet storedPacket, now time.Time, kept int) string {
	var reasons []string
	if c.policy.MaxAge > 0 && now.Sub(packet.recorded) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxPackets > 0 && kept >= c.policy.MaxPackets {
		reasons = append(reasons, fmt.Sprintf(">=%d packets", c.policy.MaxPackets))
	}
	return strings.Join(reasons, ", ")
}

// scan lists the retention units under the root, newest recording first.
func (c *Cleaner) scan() ([]storedPacket, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*storedPacket, len(entries))
	for _, entry := range entries {
		path := filepath.Join(c.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		if entry.IsDir() {
			packet, ok := c.scanBundle(path, info)
			if ok {
				byName[entry.Name()] = &packet
			}
			continue
		}
		//1.- Loose packets pair with "<file>.header.json" written next to them.
		name, isHeader := strings.CutSuffix(entry.Name(), ".header.json")
		if !isHeader && !isPacketFile(name) {
			continue
		}
		packet := byName[name]
		if packet == nil {
			packet = &storedPacket{name: name, recorded: info.ModTime()}
			byName[name] = packet
		}
		packet.paths = append(packet.paths, path)
		packet.bytes += info.Size()
		if isHeader {
			if header, err := ReadHeader(path); err == nil && !header.CreatedAt.IsZero() {
				packet.recorded = header.CreatedAt
			}
		}
	}
	packets := make([]storedPacket, 0, len(byName))
	for _, packet := range byName {
		if len(packet.paths) > 0 {
			packets = append(packets, *packet)
		}
	}
	sort.Slice(packets, func(i, j int) bool {
		if !packets[i].recorded.Equal(packets[j].recorded) {
			return packets[i].recorded.After(packets[j].recorded)
		}
		return packets[i].name > packets[j].name
	})
	return packets, nil
}

// scanBundle describes an archive directory. Directories without a packet are not archives.
func (c *Cleaner) scanBundle(dir string, info fs.FileInfo) (storedPacket, bool) {
	if _, err := os.Stat(filepath.Join(dir, PacketFile)); err != nil {
		return storedPacket{}, false
	}
	packet := storedPacket{name: filepath.Base(dir), paths: []string{dir}, recorded: info.ModTime()}
	if header, err := ReadHeader(filepath.Join(dir, HeaderFile)); err == nil && !header.CreatedAt.IsZero() {
		packet.recorded = header.CreatedAt
	}
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		packet.bytes += fi.Size()
		return nil
	})
	if err != nil {
		c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", dir))
	}
	return packet, true
}

func isPacketFile(name string) bool {
	return strings.HasSuffix(name, ".json.zst") || strings.HasSuffix(name, ".json")
}

func removeAll(paths []string) error {
	var errs error
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
