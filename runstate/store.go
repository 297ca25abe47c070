package runstate

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmbench/file"
	"github.com/mensylisir/xmbench/logger"
)

// Store keeps the active run record in a single JSON file.
type Store struct {
	path string
	log  *logrus.Entry
}

func NewStore(path string) *Store {
	return &Store{path: path, log: logger.Log.WithComponent("runstate")}
}

func (s *Store) Path() string { return s.path }

// Save replaces the stored record. The write is atomic: a crash leaves either
// the previous record or the new one.
func (s *Store) Save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode run record")
	}
	if err := file.WriteFileAtomic(s.path, data); err != nil {
		return errors.Wrap(err, "failed to save run record")
	}
	return nil
}

// Load returns the stored record, or nil when there is none. A corrupt file
// counts as no record.
func (s *Store) Load() *Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("failed to read run record %s: %v", s.path, err)
		}
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warnf("ignoring corrupt run record %s: %v", s.path, err)
		return nil
	}
	return &rec
}

func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to clear run record")
	}
	return nil
}
