// Package history keeps one git repository per document and commits a
// snapshot on every durable save.
package history

import (
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

	"noteforge/api/internal/content"
	"noteforge/api/internal/store"
)

const (
	contentFile = "content.json"
	authorName  = "NoteForge"
	authorEmail = "autosave@noteforge.local"
)

var ErrRevisionNotFound = errors.New("revision not found")

// Snapshot is what each commit stores.
type Snapshot struct {
	Title     string        `json:"title"`
	Content   content.Delta `json:"content"`
	WordCount int           `json:"wordCount"`
}

// Revision describes one commit.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Record commits the document's title and content. It reports false when the
// snapshot matches the head commit and nothing was written.
func (s *Service) Record(doc store.Document, message string) (Revision, bool, error) {
	lock := s.documentLock(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(doc.ID)
	if err != nil {
		return Revision{}, false, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(Snapshot{
		Title:     doc.Title,
		Content:   doc.Content,
		WordCount: doc.WordCount,
	}, "", "  ")
	if err != nil {
		return Revision{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Revision{}, false, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Revision{}, false, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return Revision{}, false, nil
	}

	if message == "" {
		message = "Save " + doc.Title
	}
	when := doc.LastModified
	if when.IsZero() {
		when = time.Now()
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: when},
	})
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	if err := pointMainAt(repo, hash); err != nil {
		return Revision{}, false, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first. A document never saved has none.
func (s *Service) History(documentID string, limit int) ([]Revision, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
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

// Snapshot returns the stored content of one revision.
func (s *Service) Snapshot(documentID, hash string) (Snapshot, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, ErrRevisionNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	return readSnapshot(commitObj)
}

// Remove deletes a document's repository.
func (s *Service) Remove(documentID string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(documentID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

// pointMainAt keeps history on a branch named main regardless of the
// library's default branch.
func pointMainAt(repo *git.Repository, hash plumbing.Hash) error {
	mainRef := plumbing.NewBranchReferenceName("main")
	if err := repo.Storer.SetReference(plumbing.NewHashReference(mainRef, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err == nil && head.Type() == plumbing.SymbolicReference && head.Target() == mainRef {
		return nil
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, mainRef)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, safeDirName(documentID))
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read content bytes: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode commit content: %w", err)
	}
	if snap.Content.Ops == nil {
		snap.Content = content.Empty()
	}
	return snap, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func safeDirName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	return *resolved, nil
}
