package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"emote-tracker/models"
)

// StatusManager keeps the backfill status file: why each channel left the queue,
// and whether the last backfill run finished.
type StatusManager struct {
	statusFile string
	mutex      sync.Mutex
	status     *models.BackfillStatus
	dirty      bool
}

// NewStatusManager creates a new status manager. An empty statusFile keeps status in memory only.
func NewStatusManager(statusFile string) *StatusManager {
	return &StatusManager{
		statusFile: statusFile,
		status: &models.BackfillStatus{
			Channels: make(map[string]*models.ChannelStatus),
		},
	}
}

// Load reads a previously saved status file. A missing file is not an error.
func (sm *StatusManager) Load() error {
	if sm.statusFile == "" {
		return nil
	}
	data, err := os.ReadFile(sm.statusFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read status file: %w", err)
	}

	var status models.BackfillStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to parse status file: %w", err)
	}
	if status.Channels == nil {
		status.Channels = make(map[string]*models.ChannelStatus)
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.status = &status
	return nil
}

// RecordStop notes that channelID left the backfill queue for reason.
func (sm *StatusManager) RecordStop(channelID, reason, detail string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.status.Channels[channelID] = &models.ChannelStatus{
		Reason:    reason,
		Detail:    detail,
		StoppedAt: time.Now(),
	}
	sm.dirty = true
}

// ClearStop forgets the stop record of a channel that is being backfilled again.
func (sm *StatusManager) ClearStop(channelID string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, ok := sm.status.Channels[channelID]; ok {
		delete(sm.status.Channels, channelID)
		sm.dirty = true
	}
}

// SetFinished records whether the backfill queue is idle.
func (sm *StatusManager) SetFinished(finished bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.status.Finished != finished {
		sm.status.Finished = finished
		sm.dirty = true
	}
}

// Stop returns the stop record for channelID, if any.
func (sm *StatusManager) Stop(channelID string) (models.ChannelStatus, bool) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	st, ok := sm.status.Channels[channelID]
	if !ok {
		return models.ChannelStatus{}, false
	}
	return *st, true
}

// Counts returns the number of stopped channels per reason.
func (sm *StatusManager) Counts() map[string]int {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	counts := make(map[string]int)
	for _, st := range sm.status.Channels {
		counts[st.Reason]++
	}
	return counts
}

// Save commits the current status to the JSON file when something changed since the last save.
func (sm *StatusManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.statusFile == "" || !sm.dirty {
		return nil
	}
	sm.status.LastUpdated = time.Now()

	// Ensure the directory exists.
	dir := filepath.Dir(sm.statusFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.status, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	// Write the file, overwriting it if it exists.
	if err := os.WriteFile(sm.statusFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}

	sm.dirty = false
	return nil
}
