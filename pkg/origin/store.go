// Package origin persists the standing tracking origin and applies floor
// corrections to it.
//
// The store follows the tracking system's chaperone setup model: edits are made
// to a working copy, which is either reverted to the live file or committed as
// the new live file in one atomic step.
package origin

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/floorfix/floorfix/pkg/tracking"
)

// Universe is the persisted tracking universe.
type Universe struct {
	// StandingZeroPose maps the standing zero pose into raw tracking space.
	StandingZeroPose tracking.Matrix34 `json:"standingZeroPoseToRawTrackingPose"`
	Revision         int               `json:"revision"`
	CommittedAt      time.Time         `json:"committedAt,omitempty"`
	LastOffset       *float32          `json:"lastOffset,omitempty"`
}

func defaultUniverse() Universe {
	return Universe{StandingZeroPose: tracking.Identity()}
}

// Store is a file-backed tracking universe with a working copy.
type Store struct {
	path    string
	mu      sync.Mutex
	working Universe
	now     func() time.Time
}

// NewStore opens the universe file at path. A missing file is the identity
// universe; it is created on the first commit.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if err := s.RevertWorkingCopy(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the universe file path.
func (s *Store) Path() string {
	return s.path
}

// Live reads the committed universe from disk.
func (s *Store) Live() (Universe, error) {
	return readUniverse(s.path)
}

// RevertWorkingCopy discards uncommitted edits by reloading the live file.
func (s *Store) RevertWorkingCopy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revertLocked()
}

func (s *Store) revertLocked() error {
	u, err := readUniverse(s.path)
	if err != nil {
		return err
	}
	s.working = u
	return nil
}

// WorkingStandingZeroPose returns the working copy's standing zero pose.
func (s *Store) WorkingStandingZeroPose() tracking.Matrix34 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.StandingZeroPose
}

// SetWorkingStandingZeroPose replaces the working copy's standing zero pose.
func (s *Store) SetWorkingStandingZeroPose(m tracking.Matrix34) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working.StandingZeroPose = m
}

// CommitWorkingCopy makes the working copy the live universe.
func (s *Store) CommitWorkingCopy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *Store) commitLocked() error {
	s.working.Revision++
	s.working.CommittedAt = s.now().Round(0)
	if err := writeUniverse(s.path, s.working); err != nil {
		s.working.Revision--
		return err
	}
	return nil
}

// ApplyVerticalOffset moves the standing origin by offset along its own up
// axis and commits the result. Uncommitted edits are discarded first.
func (s *Store) ApplyVerticalOffset(offset float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.revertLocked(); err != nil {
		return pkgerrors.Wrap(err, "failed to revert working copy")
	}

	pose := s.working.StandingZeroPose
	pose = pose.Translate(pose.Up().Mul(float64(offset)))
	s.working.StandingZeroPose = pose
	s.working.LastOffset = &offset

	if err := s.commitLocked(); err != nil {
		return pkgerrors.Wrap(err, "failed to commit working copy")
	}

	logrus.WithFields(logrus.Fields{
		"offset":   offset,
		"revision": s.working.Revision,
		"path":     s.path,
	}).Info("applied vertical offset to standing origin")
	return nil
}

// Reset commits the identity standing pose.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.revertLocked(); err != nil {
		return err
	}
	s.working.StandingZeroPose = tracking.Identity()
	s.working.LastOffset = nil
	return s.commitLocked()
}

func readUniverse(path string) (Universe, error) {
	fp, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultUniverse(), nil
		}
		return Universe{}, pkgerrors.Wrapf(err, "failed to open file %s", path)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", path)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return Universe{}, pkgerrors.Wrapf(err, "failed to read file %s", path)
	}
	if strings.TrimSpace(string(b)) == "" {
		return defaultUniverse(), nil
	}

	u := defaultUniverse()
	if err := json.Unmarshal(b, &u); err != nil {
		return Universe{}, pkgerrors.Wrapf(err, "failed to unmarshal universe from file %s", path)
	}
	return u, nil
}

// writeUniverse replaces path atomically so readers never see a partial file.
func writeUniverse(path string, u Universe) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(u); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to encode universe to %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return pkgerrors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
