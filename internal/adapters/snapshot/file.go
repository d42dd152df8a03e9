// Package snapshot keeps one JSON state file per pair, replaced atomically.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alejandrodnm/gridbot/internal/domain"
)

const backupLayout = "20060102T150405.000000000Z"

// FileStore implements ports.SnapshotStore on the local filesystem.
type FileStore struct {
	dir        string
	maxBackups int
	now        func() time.Time
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, maxBackups int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot.NewFileStore: mkdir %q: %w", dir, err)
	}
	return &FileStore{dir: dir, maxBackups: maxBackups, now: time.Now}, nil
}

// Path is the snapshot file of a pair.
func (s *FileStore) Path(pair string) string {
	return filepath.Join(s.dir, pair+"_state.json")
}

// Load reads the snapshot. A missing file returns found=false; anything that
// does not parse or breaks the lot invariants is reported as corrupt.
func (s *FileStore) Load(_ context.Context, pair domain.Pair) (domain.EngineState, bool, error) {
	path := s.Path(pair.Symbol)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.EngineState{}, false, nil
	}
	if err != nil {
		return domain.EngineState{}, false, fmt.Errorf("snapshot.Load: read %q: %w", path, err)
	}

	var st domain.EngineState
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return domain.EngineState{}, false, domain.NewError(domain.KindCorrupt, "snapshot.Load",
			fmt.Errorf("%s: %w", path, err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.EngineState{}, false, domain.NewError(domain.KindCorrupt, "snapshot.Load",
			fmt.Errorf("%s: trailing data after state", path))
	}
	if err := check(st, pair); err != nil {
		return domain.EngineState{}, false, domain.NewError(domain.KindCorrupt, "snapshot.Load",
			fmt.Errorf("%s: %w", path, err))
	}
	return st, true, nil
}

func check(st domain.EngineState, pair domain.Pair) error {
	if st.Version > domain.StateVersion {
		return fmt.Errorf("state version %d is newer than supported %d", st.Version, domain.StateVersion)
	}
	if st.Pair.Symbol != pair.Symbol {
		return fmt.Errorf("state belongs to %q, not %q", st.Pair.Symbol, pair.Symbol)
	}
	for _, lot := range st.Ledger.Lots {
		if lot.RemainingQuantity < 0 || lot.RemainingQuantity > lot.OriginalQuantity {
			return fmt.Errorf("lot %s: remaining %.8f outside [0, %.8f]", lot.ID, lot.RemainingQuantity, lot.OriginalQuantity)
		}
	}
	return nil
}

// Save writes a temp file next to the target, fsyncs it, copies the current
// snapshot to a timestamped backup and renames the temp file over the target.
func (s *FileStore) Save(_ context.Context, st domain.EngineState) error {
	pair := st.Pair.Symbol
	if pair == "" {
		return fmt.Errorf("snapshot.Save: state without pair")
	}
	if st.Version == 0 {
		st.Version = domain.StateVersion
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot.Save: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, pair+"_state-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot.Save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot.Save: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot.Save: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot.Save: close temp: %w", err)
	}

	target := s.Path(pair)
	if err := s.backup(pair, target); err != nil {
		return fmt.Errorf("snapshot.Save: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("snapshot.Save: rename: %w", err)
	}
	s.prune(pair)
	return nil
}

func (s *FileStore) backup(pair, target string) error {
	src, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open current: %w", err)
	}
	defer src.Close()

	name := filepath.Join(s.dir, fmt.Sprintf("%s_state_backup_%s.json", pair, s.now().UTC().Format(backupLayout)))
	dst, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy backup: %w", err)
	}
	return dst.Close()
}

// Backups lists a pair's backup files, oldest first.
func (s *FileStore) Backups(pair string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, pair+"_state_backup_*.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot.Backups: %w", err)
	}
	sort.Strings(matches) // the timestamp layout sorts lexically
	return matches, nil
}

func (s *FileStore) prune(pair string) {
	if s.maxBackups <= 0 {
		return
	}
	backups, err := s.Backups(pair)
	if err != nil {
		slog.Warn("snapshot: list backups", "pair", pair, "err", err)
		return
	}
	for len(backups) > s.maxBackups {
		if err := os.Remove(backups[0]); err != nil {
			slog.Warn("snapshot: prune backup", "file", backups[0], "err", err)
		}
		backups = backups[1:]
	}
}
