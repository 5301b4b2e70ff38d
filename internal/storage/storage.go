package storage

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"

	"pulse_trading/internal/pdt"
	"pulse_trading/internal/risk"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = "1.1"

// State is everything the trading core persists between runs: the intraday
// drawdown baseline and milestone floors, and the PDT day-trade window.
type State struct {
	Version string     `json:"version"`
	SavedAt time.Time  `json:"saved_at"`
	Risk    risk.State `json:"risk"`
	PDT     pdt.State  `json:"pdt"`
}

// Store reads and writes the state file.
type Store struct {
	Path string
}

// NewStore returns a store for the given path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the state from disk. A missing file yields a fresh state which
// is saved immediately so the next run finds it.
func (st *Store) Load() (State, error) {
	var s State

	if _, err := os.Stat(st.Path); os.IsNotExist(err) {
		log.Println("State file missing, generating template...")
		s = State{Version: CurrentVersion}
		st.Save(s)
		return s, nil
	}

	f, err := os.Open(st.Path)
	if err != nil {
		return s, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return s, err
	}

	if err := json.Unmarshal(b, &s); err != nil {
		return s, err
	}

	if migrateState(&s) {
		log.Printf("INFO: State migrated to version %s. Saving...", s.Version)
		st.Save(s)
	}

	return s, nil
}

// migrateState handles schema evolution.
// Returns true if changes were made and the state needs to be saved.
func migrateState(s *State) bool {
	updated := false

	// Migration: 1.0 -> 1.1 (stock entry times moved under the PDT block)
	if s.Version < "1.1" {
		log.Println("INFO: Migrating State Schema from 1.0 to 1.1")
		if s.PDT.StockEntries == nil {
			s.PDT.StockEntries = map[string]time.Time{}
		}
		s.Version = "1.1"
		updated = true
	}

	return updated
}

// Save writes the current state to disk using an atomic write pattern.
// 1. Write to a temporary file.
// 2. Sync to ensure data is on disk.
// 3. Rename temporary file to destination (atomic operation).
func (st *Store) Save(s State) {
	s.Version = CurrentVersion
	s.SavedAt = time.Now()

	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Printf("ERROR: Failed to marshal state: %v", err)
		return
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmpFile := st.Path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		log.Printf("ERROR: Failed to create temp state file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		log.Printf("ERROR: Failed to write to temp state file: %v", err)
		return
	}

	// Force sync to disk to prevent data loss on power failure before rename
	if err := f.Sync(); err != nil {
		log.Printf("ERROR: Failed to sync temp state file: %v", err)
		return
	}

	// Close explicitly before renaming (essential on Windows)
	f.Close()

	if err := os.Rename(tmpFile, st.Path); err != nil {
		log.Printf("ERROR: Failed to replace state file (atomic rename): %v", err)
	}
}
