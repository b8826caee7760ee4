// Package history keeps a git repository per project with one commit per
// successful save, so earlier states of the document can be listed and
// read back.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"thinkbigger/api/internal/model"
)

const snapshotFile = "snapshot.json"

var ErrNotFound = errors.New("history not found")

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(baseDir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		baseDir: baseDir,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits snap as the new head of the project's history. When the
// snapshot equals the current head nothing is committed and ok is false.
func (s *Service) Record(projectID string, snap model.Snapshot, author model.Identity) (Commit, bool, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(projectID)
	if err != nil {
		return Commit{}, false, err
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Commit{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload = append(payload, '\n')

	var previous model.Snapshot
	head, err := headCommit(repo)
	switch {
	case err == nil:
		raw, err := readFile(head)
		if err != nil {
			return Commit{}, false, err
		}
		if bytes.Equal(raw, payload) {
			return toCommit(head), false, nil
		}
		if err := json.Unmarshal(raw, &previous); err != nil {
			return Commit{}, false, fmt.Errorf("decode head snapshot: %w", err)
		}
	case errors.Is(err, ErrNotFound):
	default:
		return Commit{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add snapshot: %w", err)
	}

	name := author.Name
	if name == "" {
		name = author.ID
	}
	hash, err := worktree.Commit(Summary(previous, snap), &git.CommitOptions{
		Author: &object.Signature{
			Name:  name,
			Email: fmt.Sprintf("%s@users.thinkbigger.local", sanitizeEmail(author.ID)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	s.logger.Debug("snapshot recorded", zap.String("project_id", projectID), zap.String("hash", hash.String()))
	return toCommit(commitObj), true, nil
}

// History lists commits newest first. A project that was never saved has
// an empty history.
func (s *Service) History(projectID string, limit int) ([]Commit, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	items := make([]Commit, 0)
	repo, err := s.open(projectID)
	if errors.Is(err, ErrNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, toCommit(c))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the snapshot stored at hash, which may be abbreviated.
func (s *Service) SnapshotAt(projectID, hash string) (model.Snapshot, Commit, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(projectID)
	if err != nil {
		return model.Snapshot{}, Commit{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return model.Snapshot{}, Commit{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return model.Snapshot{}, Commit{}, fmt.Errorf("commit %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, Commit{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readFile(commitObj)
	if err != nil {
		return model.Snapshot{}, Commit{}, err
	}
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.Snapshot{}, Commit{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, toCommit(commitObj), nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

func (s *Service) open(projectID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(projectID string) (*git.Repository, error) {
	repo, err := s.open(projectID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return repo, err
	}
	path := s.repoPath(projectID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	c, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return c, nil
}

func readFile(c *object.Commit) ([]byte, error) {
	file, err := c.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", hash, ErrNotFound)
	}
	return *resolved, nil
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Hash:      c.Hash.String(),
		Message:   strings.TrimSpace(c.Message),
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "member"
	}
	return string(out)
}
