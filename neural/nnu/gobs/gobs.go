// Package gobs saves and loads model checkpoints using the gob encoding.
// gob is used for serialization of Go data structures.
package gobs

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/golangast/gpt/neural/nn"
)

// FormatVersion is written into every checkpoint. Checkpoints load only when
// their major version matches.
const FormatVersion = "v1.0.0"

// ErrNoCheckpoints is returned by Manager.LoadBest on an empty directory.
var ErrNoCheckpoints = errors.New("no checkpoints found")

// Metadata describes how a checkpoint was produced.
type Metadata struct {
	CreatedAt time.Time
	Config    string // model configuration as JSON
	Step      int
	Phase     string
}

// Checkpoint is a snapshot of every model parameter.
type Checkpoint struct {
	FormatVersion string
	Epoch         int
	Loss          float32
	Parameters    [][]float32
	Metadata      Metadata
}

// NewCheckpoint creates an empty checkpoint stamped with the current time.
func NewCheckpoint(epoch int, loss float32, config string) *Checkpoint {
	return &Checkpoint{
		FormatVersion: FormatVersion,
		Epoch:         epoch,
		Loss:          loss,
		Metadata: Metadata{
			CreatedAt: time.Now(),
			Config:    config,
			Step:      epoch,
		},
	}
}

// AddParameters appends copies of params.
func (c *Checkpoint) AddParameters(params ...[]float32) {
	for _, p := range params {
		c.Parameters = append(c.Parameters, append([]float32(nil), p...))
	}
}

// Compatible reports whether a checkpoint written with version can be loaded.
func Compatible(version string) bool {
	return semver.IsValid(version) && semver.Major(version) == semver.Major(FormatVersion)
}

// Save writes the checkpoint to filePath.
func (c *Checkpoint) Save(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %v: %w", err, nn.ErrSerialization)
	}
	log.Printf("Checkpoint saved to %s", filePath)
	return nil
}

// LoadCheckpoint reads a checkpoint written by Save.
func LoadCheckpoint(filePath string) (*Checkpoint, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	c := new(Checkpoint)
	if err := gob.NewDecoder(file).Decode(c); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint %s: %v: %w", filePath, err, nn.ErrSerialization)
	}
	if !Compatible(c.FormatVersion) {
		return nil, fmt.Errorf("checkpoint %s has format %q, want %s: %w",
			filePath, c.FormatVersion, semver.Major(FormatVersion), nn.ErrSerialization)
	}
	return c, nil
}

func deleteGobFile(filePath string) error {
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete gob file %s: %w", filePath, err)
	}
	return nil
}

// Manager keeps checkpoints in Dir. With KeepBest set, Save prunes the
// directory to the MaxCheckpoints lowest-loss files.
type Manager struct {
	Dir            string
	KeepBest       bool
	MaxCheckpoints int
}

// Entry is a checkpoint found on disk.
type Entry struct {
	Path  string
	Epoch int
	Loss  float32
}

// NewManager creates dir if needed.
func NewManager(dir string, keepBest bool, maxCheckpoints int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &Manager{Dir: dir, KeepBest: keepBest, MaxCheckpoints: maxCheckpoints}, nil
}

// Save writes c as checkpoint_epoch_NNNN.gob and returns its path.
func (m *Manager) Save(c *Checkpoint) (string, error) {
	path := filepath.Join(m.Dir, fmt.Sprintf("checkpoint_epoch_%04d.gob", c.Epoch))
	if err := c.Save(path); err != nil {
		return "", err
	}
	if m.KeepBest {
		if err := m.prune(); err != nil {
			return path, err
		}
	}
	return path, nil
}

// List returns every loadable checkpoint written by Save, lowest loss first.
func (m *Manager) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), "checkpoint_epoch_") || !strings.HasSuffix(de.Name(), ".gob") {
			continue
		}
		path := filepath.Join(m.Dir, de.Name())
		c, err := LoadCheckpoint(path)
		if err != nil {
			log.Printf("Skipping unreadable checkpoint %s: %v", path, err)
			continue
		}
		entries = append(entries, Entry{Path: path, Epoch: c.Epoch, Loss: c.Loss})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Loss != entries[j].Loss {
			return entries[i].Loss < entries[j].Loss
		}
		return entries[i].Epoch > entries[j].Epoch
	})
	return entries, nil
}

// LoadBest loads the lowest-loss checkpoint.
func (m *Manager) LoadBest() (*Checkpoint, error) {
	entries, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", m.Dir, ErrNoCheckpoints)
	}
	return LoadCheckpoint(entries[0].Path)
}

func (m *Manager) prune() error {
	entries, err := m.List()
	if err != nil {
		return err
	}
	for len(entries) > m.MaxCheckpoints && m.MaxCheckpoints > 0 {
		last := entries[len(entries)-1]
		if err := deleteGobFile(last.Path); err != nil {
			return err
		}
		entries = entries[:len(entries)-1]
	}
	return nil
}
