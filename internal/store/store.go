// Package store is the persisted source of truth for accounts and their
// provisioning records. All mutations go through Update, which commits both
// maps together; transient session state is never stored here.
package store

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"spawnhub/internal/model"
)

type Store struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex

	accountsByName map[string]model.Account
	recordsByName  map[string]model.ProvisioningRecord
}

type Options struct {
	StateFile string
}

func New() *Store {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Store {
	s := &Store{
		accountsByName: make(map[string]model.Account),
		recordsByName:  make(map[string]model.ProvisioningRecord),
		stateFile:      opts.StateFile,
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			log.Printf("state persistence: load failed (%s): %v", s.stateFile, err)
		}
	}

	return s
}

type persistedStateFile struct {
	Version  int                        `json:"version"`
	Accounts []model.Account            `json:"accounts"`
	Records  []model.ProvisioningRecord `json:"records"`
	SavedAt  int64                      `json:"savedAt"`
}

func (s *Store) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedStateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range file.Accounts {
		if a.Name == "" {
			continue
		}
		s.accountsByName[a.Name] = a
	}
	for _, r := range file.Records {
		if r.AccountName == "" {
			continue
		}
		s.recordsByName[r.AccountName] = r
	}
	return nil
}

// Tx is a snapshot of the store's maps; mutations apply to the snapshot and
// are swapped in only when the Update callback returns nil.
type Tx struct {
	accounts map[string]model.Account
	records  map[string]model.ProvisioningRecord
}

func (tx *Tx) GetAccount(name string) (model.Account, bool) {
	a, ok := tx.accounts[name]
	return a, ok
}

func (tx *Tx) PutAccount(a model.Account) {
	tx.accounts[a.Name] = a
}

func (tx *Tx) DeleteAccount(name string) {
	delete(tx.accounts, name)
}

func (tx *Tx) GetRecord(name string) (model.ProvisioningRecord, bool) {
	r, ok := tx.records[name]
	return r, ok
}

func (tx *Tx) PutRecord(r model.ProvisioningRecord) {
	tx.records[r.AccountName] = r
}

func (tx *Tx) DeleteRecord(name string) {
	delete(tx.records, name)
}

// Update runs fn against a copy of the current state and commits the copy
// atomically when fn succeeds. An error from fn leaves the store untouched.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()

	tx := &Tx{
		accounts: make(map[string]model.Account, len(s.accountsByName)),
		records:  make(map[string]model.ProvisioningRecord, len(s.recordsByName)),
	}
	for k, v := range s.accountsByName {
		tx.accounts[k] = v
	}
	for k, v := range s.recordsByName {
		tx.records[k] = v
	}

	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	s.accountsByName = tx.accounts
	s.recordsByName = tx.records

	var snapshot *persistedStateFile
	if s.stateFile != "" {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.persistSnapshot(snapshot)
	}
	return nil
}

func (s *Store) GetAccount(name string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accountsByName[name]
	return a, ok
}

func (s *Store) GetRecord(name string) (model.ProvisioningRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recordsByName[name]
	return r, ok
}

func (s *Store) ListAccounts() []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Account, 0, len(s.accountsByName))
	for _, a := range s.accountsByName {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (s *Store) snapshotLocked() *persistedStateFile {
	file := &persistedStateFile{Version: 1, SavedAt: time.Now().UnixMilli()}
	file.Accounts = make([]model.Account, 0, len(s.accountsByName))
	for _, a := range s.accountsByName {
		file.Accounts = append(file.Accounts, a)
	}
	sort.Slice(file.Accounts, func(i, j int) bool { return file.Accounts[i].Name < file.Accounts[j].Name })
	file.Records = make([]model.ProvisioningRecord, 0, len(s.recordsByName))
	for _, r := range s.recordsByName {
		file.Records = append(file.Records, r)
	}
	sort.Slice(file.Records, func(i, j int) bool { return file.Records[i].AccountName < file.Records[j].AccountName })
	return file
}

func (s *Store) persistSnapshot(file *persistedStateFile) {
	path := s.stateFile

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Printf("state persistence: mkdir failed (%s): %v", dir, err)
		return
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		log.Printf("state persistence: marshal failed: %v", err)
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Printf("state persistence: create temp failed: %v", err)
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Printf("state persistence: chmod temp failed: %v", err)
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Printf("state persistence: write temp failed: %v", err)
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Printf("state persistence: sync temp failed: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Printf("state persistence: close temp failed: %v", err)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Printf("state persistence: rename failed: %v", err)
		return
	}
}
