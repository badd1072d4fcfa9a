package state

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/types"
)

// Manager handles the state of realized plan steps. An empty state file
// keeps everything in memory.
type Manager struct {
	mu        sync.RWMutex
	stateFile string
	logger    *logging.Logger
	state     *types.InfrastructureState
}

// NewManager creates a new state manager
func NewManager(stateFile string, region string, logger *logging.Logger) *Manager {
	return &Manager{
		stateFile: stateFile,
		logger:    logger,
		state:     newState(region),
	}
}

func newState(region string) *types.InfrastructureState {
	return &types.InfrastructureState{
		Version:      "1.0",
		LastUpdated:  time.Now(),
		Region:       region,
		Resources:    make(map[string]*types.ResourceState),
		Dependencies: make(map[string][]string),
		Metadata:     make(map[string]interface{}),
	}
}

// LoadState loads state from file
func (m *Manager) LoadState(ctx context.Context) error {
	if m.stateFile == "" {
		return nil
	}

	m.logger.WithField("state_file", m.stateFile).Info("Loading topology state from file")

	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if _, err := os.Stat(m.stateFile); os.IsNotExist(err) {
		m.logger.Info("State file does not exist, initializing new state")
		return m.SaveState(ctx)
	}

	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	loaded := &types.InfrastructureState{}
	if err := json.Unmarshal(data, loaded); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if loaded.Resources == nil {
		loaded.Resources = make(map[string]*types.ResourceState)
	}
	if loaded.Dependencies == nil {
		loaded.Dependencies = make(map[string][]string)
	}

	m.mu.Lock()
	m.state = loaded
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"resource_count": len(loaded.Resources),
		"topology":       loaded.Topology,
	}).Info("Topology state loaded successfully")
	return nil
}

// SaveState saves state to file
func (m *Manager) SaveState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	m.state.LastUpdated = time.Now()
	if m.stateFile == "" {
		return nil
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temporary file first
	tempFile := m.stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempFile, m.stateFile); err != nil {
		return fmt.Errorf("failed to rename temporary state file: %w", err)
	}

	m.logger.Debug("Topology state saved")
	return nil
}

// Bind associates the state with a topology. Resources recorded for a
// different topology name are discarded.
func (m *Manager) Bind(ctx context.Context, topology, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Topology != "" && m.state.Topology != topology {
		m.logger.WithFields(logrus.Fields{
			"previous": m.state.Topology,
			"current":  topology,
		}).Warn("State belongs to another topology, starting fresh")
		m.state = newState(m.state.Region)
	}
	m.state.Topology = topology
	m.state.Fingerprint = fingerprint
	return m.saveLocked()
}

// GetState returns a copy of the current state
func (m *Manager) GetState() *types.InfrastructureState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, _ := json.Marshal(m.state)
	snapshot := &types.InfrastructureState{}
	_ = json.Unmarshal(data, snapshot)
	return snapshot
}

// RecordRealized stores the handle of a completed step together with the
// checksum of the spec that produced it.
func (m *Manager) RecordRealized(ctx context.Context, handle *types.RealizedResource, specChecksum string, dependencies []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"resource_id":   handle.StepID,
		"resource_type": handle.Kind,
		"provider_id":   handle.ProviderID,
	}).Info("Recording realized resource")

	now := time.Now()
	resource, exists := m.state.Resources[handle.StepID]
	if !exists {
		resource = &types.ResourceState{ID: handle.StepID, CreatedAt: now}
		m.state.Resources[handle.StepID] = resource
	}
	resource.Name = handle.Name
	resource.Type = handle.Kind
	resource.Status = types.StatusCompleted
	resource.ProviderID = handle.ProviderID
	resource.Outputs = copyOutputs(handle.Outputs)
	resource.Dependencies = append([]string(nil), dependencies...)
	resource.SpecChecksum = specChecksum
	resource.UpdatedAt = now

	m.state.Dependencies[handle.StepID] = append([]string(nil), dependencies...)

	return m.saveLocked()
}

// Realized returns the stored handle when the step was realized from a spec
// with the same checksum.
func (m *Manager) Realized(stepID, specChecksum string) (*types.RealizedResource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resource, exists := m.state.Resources[stepID]
	if !exists || resource.Status != types.StatusCompleted || resource.SpecChecksum != specChecksum {
		return nil, false
	}
	return &types.RealizedResource{
		StepID:     resource.ID,
		Kind:       resource.Type,
		Name:       resource.Name,
		ProviderID: resource.ProviderID,
		Outputs:    copyOutputs(resource.Outputs),
		RealizedAt: resource.UpdatedAt,
	}, true
}

// RemoveResource removes a resource from the state
func (m *Manager) RemoveResource(ctx context.Context, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.state.Resources[resourceID]; !exists {
		return fmt.Errorf("resource %s not found in state", resourceID)
	}

	m.logger.WithField("resource_id", resourceID).Info("Removing resource from state")

	delete(m.state.Resources, resourceID)
	delete(m.state.Dependencies, resourceID)
	for id, deps := range m.state.Dependencies {
		for i, dep := range deps {
			if dep == resourceID {
				m.state.Dependencies[id] = append(deps[:i:i], deps[i+1:]...)
				break
			}
		}
	}

	return m.saveLocked()
}

// GetResource returns a resource from the state
func (m *Manager) GetResource(resourceID string) (*types.ResourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resource, exists := m.state.Resources[resourceID]
	return resource, exists
}

// ListResources returns all resources of a kind, sorted by id. An empty kind
// lists everything.
func (m *Manager) ListResources(resourceType string) []*types.ResourceState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var resources []*types.ResourceState
	for _, resource := range m.state.Resources {
		if resourceType == "" || resource.Type == resourceType {
			resources = append(resources, resource)
		}
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources
}

// GetDependencies returns all dependencies for a resource
func (m *Manager) GetDependencies(resourceID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.state.Dependencies[resourceID]...)
}

// Checksum returns a digest of the recorded resources
func (m *Manager) Checksum() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.state.Resources))
	for id := range m.state.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		resource := m.state.Resources[id]
		fmt.Fprintf(h, "%s %s %s\n", id, resource.ProviderID, resource.SpecChecksum)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func copyOutputs(outputs map[string]string) map[string]string {
	if outputs == nil {
		return nil
	}
	result := make(map[string]string, len(outputs))
	for k, v := range outputs {
		result[k] = v
	}
	return result
}
