package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "leadbot/pkg/logx"
)

const compactEvery = 500

// fileStore keeps everything under one path prefix:
//   - <prefix>.attempts.jsonl          append-only audit
//   - <prefix>.contacts.snapshot.json  identity -> unix milli
//   - <prefix>.contacts.journal.jsonl  appended between snapshots
type fileStore struct {
	log       logx.Logger
	retention time.Duration

	mu sync.Mutex

	attemptsPath string
	attempts     *os.File

	snapshotPath string
	journal      *os.File
	contacts     map[string]int64
	writes       int
}

type contactRecord struct {
	Identity string `json:"identity"`
	At       int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		retention:    cfg.retention(),
		attemptsPath: prefix + ".attempts.jsonl",
		snapshotPath: prefix + ".contacts.snapshot.json",
		contacts:     map[string]int64{},
	}

	af, err := os.OpenFile(s.attemptsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.attempts = af

	journalPath := prefix + ".contacts.journal.jsonl"
	if err := loadSnapshot(s.snapshotPath, s.contacts); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("contact snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayJournal(journalPath, s.contacts); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("contact journal replay failed", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("contacts", len(s.contacts)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.attempts != nil {
		errs = append(errs, s.attempts.Close())
		s.attempts = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAttempt(_ context.Context, e AttemptEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts == nil {
		return errors.New("attempt log closed")
	}
	return json.NewEncoder(s.attempts).Encode(e)
}

// Summarize scans the attempt log. The file only grows by one line per
// lead, so a linear scan is fine for a daily report.
func (s *fileStore) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	sum := Summary{Since: since}
	f, err := os.Open(s.attemptsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sum, nil
		}
		return sum, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var e AttemptEntry
			if json.Unmarshal(line, &e) == nil && !e.At.Before(since) {
				sum.add(e)
			}
		}
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
	}
}

func (s *fileStore) MarkContacted(_ context.Context, identity string, at time.Time) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil
	}
	ms := at.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("contact journal closed")
	}
	s.contacts[identity] = ms
	if err := json.NewEncoder(s.journal).Encode(contactRecord{Identity: identity, At: ms}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("contact compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LastContacted(_ context.Context, identity string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.contacts[strings.TrimSpace(identity)]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactLocked() error {
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	for k, v := range s.contacts {
		if v < cutoff {
			delete(s.contacts, k)
		}
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.contacts); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r contactRecord
		if json.Unmarshal(sc.Bytes(), &r) != nil || r.Identity == "" {
			continue
		}
		if r.At > out[r.Identity] {
			out[r.Identity] = r.At
		}
	}
	return sc.Err()
}
