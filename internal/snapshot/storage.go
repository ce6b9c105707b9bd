// internal/snapshot/storage.go
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"copperline/internal/editlog"
)

// Storage manages compressed board snapshots: point-in-time exports of
// every stored route, for backup or sharing a board between operators.
type Storage struct {
	baseDir string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Snapshot is the exported payload.
type Snapshot struct {
	CreatedAt time.Time           `json:"created_at"`
	Routes    []editlog.RouteView `json:"routes"`
}

// NewStorage creates snapshot storage under baseDir.
func NewStorage(baseDir string, compressionLevel int) *Storage {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
	decoder, _ := zstd.NewReader(nil)

	return &Storage{
		baseDir: baseDir,
		encoder: encoder,
		decoder: decoder,
	}
}

// Export writes a snapshot of the given routes and returns its path.
func (s *Storage) Export(routes []editlog.RouteView) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	snap := Snapshot{
		CreatedAt: time.Now(),
		Routes:    routes,
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("board-%s.json.zst", snap.CreatedAt.Format("20060102-150405"))
	path := filepath.Join(s.baseDir, name)

	compressed := s.encoder.EncodeAll(payload, nil)
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// Import reads a snapshot file and returns its routes.
func (s *Storage) Import(path string) ([]editlog.RouteView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	payload, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return snap.Routes, nil
}

// List returns the snapshot files under baseDir, newest first.
func (s *Storage) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".zst" {
			out = append(out, filepath.Join(s.baseDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
