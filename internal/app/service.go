package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"noteforge/api/internal/autosave"
	"noteforge/api/internal/cloudsync"
	"noteforge/api/internal/content"
	"noteforge/api/internal/export"
	"noteforge/api/internal/history"
	"noteforge/api/internal/notify"
	"noteforge/api/internal/search"
	"noteforge/api/internal/session"
	"noteforge/api/internal/store"
)

type documentStore interface {
	LoadAll(context.Context) error
	Create(context.Context) (store.Document, error)
	Load(string) (store.Document, error)
	Save(context.Context, store.Document) (store.Document, error)
	Delete(context.Context, string) error
	UpdateContent(string, content.Delta) (store.Document, error)
	UpdateTitle(string, string) (store.Document, error)
	List() []store.Document
	First() (store.Document, bool)
	Len() int
	Snapshot() ([]byte, error)
}

type settingsStore interface {
	Load(context.Context) (store.Settings, error)
	Get() store.Settings
	Update(context.Context, store.SettingsPatch) (store.Settings, error)
}

type exporter interface {
	Export(context.Context, store.Document, export.Format) (*export.Result, error)
}

type syncAdapter interface {
	Provider() string
	Authenticated(context.Context) bool
	Sync(context.Context, []byte) error
}

type historyLog interface {
	Record(store.Document, string) (history.Revision, bool, error)
	History(string, int) ([]history.Revision, error)
	Snapshot(string, string) (history.Snapshot, error)
	Remove(string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	Index(search.Record)
	Delete(string)
	ReindexAll([]search.Record)
}

type dropboxConnector interface {
	AuthorizeURL(context.Context, string) (string, error)
	Exchange(context.Context, string, string, string) (session.Token, error)
	Disconnect(context.Context) error
}

// Options wires the collaborators. Documents, Settings and Exporter are
// required; the rest are optional.
type Options struct {
	Documents        documentStore
	Settings         settingsStore
	Exporter         exporter
	Sync             syncAdapter
	History          historyLog
	Search           searchIndex
	Dropbox          dropboxConnector
	Events           notify.Publisher
	Logger           logrus.FieldLogger
	AutosaveInterval time.Duration
	Clock            func() time.Time
}

// State is the session view a client needs to render and to guard unload.
type State struct {
	ActiveID       string         `json:"activeId"`
	Dirty          bool           `json:"dirty"`
	AutosaveState  autosave.State `json:"autosaveState"`
	DocumentCount  int            `json:"documentCount"`
	Empty          bool           `json:"empty"`
	Syncing        bool           `json:"syncing"`
	SyncProvider   string         `json:"syncProvider,omitempty"`
	CloudConnected bool           `json:"cloudConnected"`
	Settings       store.Settings `json:"settings"`
}

// DocumentItem is one row of the document list.
type DocumentItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	WordCount    int       `json:"wordCount"`
	CharCount    int       `json:"charCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
	Modified     string    `json:"modified"`
	Active       bool      `json:"active"`
}

// DocumentEdit carries an optional title and content applied before a save.
type DocumentEdit struct {
	Title   *string        `json:"title,omitempty"`
	Content *content.Delta `json:"content,omitempty"`
}

// Service owns the application state. Every mutation runs under mu, so the
// document collection, the active reference and the autosave controller move
// together.
type Service struct {
	docs     documentStore
	settings settingsStore
	exporter exporter
	sync     syncAdapter
	history  historyLog
	search   searchIndex
	dropbox  dropboxConnector
	events   notify.Publisher
	log      logrus.FieldLogger
	now      func() time.Time

	interval time.Duration
	autosave *autosave.Controller

	mu       sync.Mutex
	activeID string

	syncing atomic.Bool
}

func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	events := opts.Events
	if events == nil {
		events = notify.NewBus()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	interval := opts.AutosaveInterval
	if interval <= 0 {
		interval = autosave.DefaultInterval
	}

	s := &Service{
		docs:     opts.Documents,
		settings: opts.Settings,
		exporter: opts.Exporter,
		sync:     opts.Sync,
		history:  opts.History,
		search:   opts.Search,
		dropbox:  opts.Dropbox,
		events:   events,
		log:      log.WithField("component", "app"),
		now:      now,
		interval: interval,
	}
	s.autosave = autosave.New(s.flushTick, log)
	return s
}

// Start loads settings, then documents, selects the first document and arms
// autosave.
func (s *Service) Start(ctx context.Context) error {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := s.docs.LoadAll(ctx); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	s.mu.Lock()
	docs := s.docs.List()
	if s.search != nil {
		s.search.ReindexAll(search.RecordsFrom(docs))
	}
	if first, ok := s.docs.First(); ok {
		s.setActiveLocked(first.ID)
	}
	s.mu.Unlock()

	s.autosave.Configure(settings.AutoSave, s.interval)
	s.log.WithFields(logrus.Fields{
		"documents": len(docs),
		"autosave":  settings.AutoSave,
		"interval":  s.interval.String(),
	}).Info("application started")
	return nil
}

// Close stops autosave. Unsaved edits are reported, not written.
func (s *Service) Close() {
	s.autosave.Close()
	if s.autosave.IsDirty() {
		s.log.WithField("document_id", s.autosave.ActiveID()).Warn("closing with unsaved changes")
	}
}

func (s *Service) State(ctx context.Context) State {
	s.mu.Lock()
	state := State{
		ActiveID:      s.activeID,
		Dirty:         s.autosave.IsDirty(),
		AutosaveState: s.autosave.State(),
		DocumentCount: s.docs.Len(),
		Syncing:       s.syncing.Load(),
		Settings:      s.settings.Get(),
	}
	s.mu.Unlock()

	state.Empty = state.DocumentCount == 0
	if s.sync != nil {
		state.SyncProvider = s.sync.Provider()
		state.CloudConnected = s.sync.Authenticated(ctx)
	}
	return state
}

// Dirty reports whether the active document has edits not yet saved.
func (s *Service) Dirty() bool { return s.autosave.IsDirty() }

func (s *Service) ListDocuments() []DocumentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	docs := s.docs.List()
	items := make([]DocumentItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, DocumentItem{
			ID:           doc.ID,
			Title:        doc.Title,
			WordCount:    doc.WordCount,
			CharCount:    doc.CharCount,
			CreatedAt:    doc.CreatedAt,
			LastModified: doc.LastModified,
			Modified:     RelativeDate(doc.LastModified, now),
			Active:       doc.ID == s.activeID,
		})
	}
	return items
}

// CreateDocument inserts a new document and makes it active. When the write
// fails the document still exists in memory and is returned with the error.
func (s *Service) CreateDocument(ctx context.Context) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.docs.Create(ctx)
	if doc.ID != "" {
		s.setActiveLocked(doc.ID)
		s.indexLocked(doc)
		s.publish(notify.Event{Type: notify.TypeDocumentsChanged, DocumentID: doc.ID})
	}
	if err != nil {
		s.fail("Failed to save new document", err)
		return doc, err
	}
	s.toast(notify.SeveritySuccess, "New document created")
	return doc, nil
}

// OpenDocument makes id the active document. An unknown id changes nothing.
func (s *Service) OpenDocument(id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.docs.Load(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.WithField("document_id", id).Info("open ignored for unknown document")
		}
		return store.Document{}, err
	}
	s.setActiveLocked(doc.ID)
	return doc, nil
}

// ActiveDocument returns the open document, if any.
func (s *Service) ActiveDocument() (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return store.Document{}, false
	}
	doc, err := s.docs.Load(s.activeID)
	if err != nil {
		return store.Document{}, false
	}
	return doc, true
}

func (s *Service) GetDocument(id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Load(id)
}

// UpdateContent applies an edit in memory and marks the document dirty when
// it is active and autosave is on.
func (s *Service) UpdateContent(id string, delta content.Delta) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.docs.UpdateContent(id, delta)
	if err != nil {
		return store.Document{}, err
	}
	s.markDirtyLocked(doc.ID)
	return doc, nil
}

// UpdateTitle renames a document in memory. The list is re-rendered right
// away; the write happens on the next save.
func (s *Service) UpdateTitle(id, title string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.docs.UpdateTitle(id, title)
	if err != nil {
		return store.Document{}, err
	}
	s.markDirtyLocked(doc.ID)
	s.publish(notify.Event{Type: notify.TypeDocumentsChanged, DocumentID: doc.ID})
	return doc, nil
}

// SaveDocument applies edit, if any, and persists. An empty id means the
// active document.
func (s *Service) SaveDocument(ctx context.Context, id string, edit DocumentEdit) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.activeID
	}
	if id == "" {
		return store.Document{}, ErrNoActiveDocument
	}
	doc, err := s.docs.Load(id)
	if err != nil {
		return store.Document{}, err
	}
	if edit.Title != nil {
		doc.Title = *edit.Title
	}
	if edit.Content != nil {
		doc.Content = *edit.Content
	}
	return s.saveLocked(ctx, doc, "Save "+titleOrDefault(doc.Title))
}

// DeleteDocument removes a document. Without confirmation nothing is touched.
// Deleting the active document selects the first remaining one.
func (s *Service) DeleteDocument(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.activeID
	}
	if id == "" {
		return ErrNoActiveDocument
	}

	err := s.docs.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.log.WithField("document_id", id).Info("delete ignored for unknown document")
		return err
	}

	// The document is gone from memory even when the write failed.
	if id == s.activeID {
		if first, ok := s.docs.First(); ok {
			s.setActiveLocked(first.ID)
		} else {
			s.setActiveLocked("")
		}
	}
	if s.search != nil {
		s.search.Delete(id)
	}
	if s.history != nil {
		if herr := s.history.Remove(id); herr != nil {
			s.log.WithError(herr).WithField("document_id", id).Warn("remove document history")
		}
	}
	s.publish(notify.Event{Type: notify.TypeDocumentsChanged, DocumentID: id})

	if err != nil {
		s.fail("Failed to save changes", err)
		return err
	}
	s.toast(notify.SeverityInfo, "Document deleted")
	return nil
}

// ExportDocument renders a document. An empty id means the active document.
func (s *Service) ExportDocument(ctx context.Context, id, formatName string) (*export.Result, error) {
	s.mu.Lock()
	if id == "" {
		id = s.activeID
	}
	if id == "" {
		s.mu.Unlock()
		s.toast(notify.SeverityError, "No document to export")
		return nil, ErrNoActiveDocument
	}
	doc, err := s.docs.Load(id)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.toast(notify.SeverityError, "No document to export")
		}
		return nil, err
	}

	format, err := export.ParseFormat(formatName)
	if err != nil {
		s.fail("Unsupported export format", err)
		return nil, err
	}
	result, err := s.exporter.Export(ctx, doc, format)
	if err != nil {
		s.fail("Export failed", err)
		return nil, err
	}
	s.toast(notify.SeveritySuccess, "Exported as "+strings.ToUpper(result.Extension))
	return result, nil
}

// Sync uploads a snapshot of the whole collection. The snapshot is taken
// under the state lock; the upload runs outside it. Only one sync runs at a
// time.
func (s *Service) Sync(ctx context.Context) error {
	if s.sync == nil {
		s.toast(notify.SeverityError, "Cloud sync is not configured")
		return ErrSyncUnavailable
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	label := providerLabel(s.sync.Provider())
	if !s.sync.Authenticated(ctx) {
		s.toast(notify.SeverityError, label+" not connected")
		return cloudsync.ErrNotAuthenticated
	}

	s.mu.Lock()
	snapshot, err := s.docs.Snapshot()
	s.mu.Unlock()
	if err != nil {
		s.fail("Sync failed", err)
		return fmt.Errorf("snapshot documents: %w", err)
	}

	s.toast(notify.SeverityInfo, "Syncing with "+label+"...")
	if err := s.sync.Sync(ctx, snapshot); err != nil {
		if errors.Is(err, cloudsync.ErrNotAuthenticated) {
			s.toast(notify.SeverityError, label+" not connected")
			return err
		}
		if errors.Is(err, cloudsync.ErrRemoteUnauthorized) && s.sync.Provider() == cloudsync.ProviderDropbox {
			s.forgetCloudToken(ctx)
		}
		s.fail("Sync failed", err)
		return err
	}
	s.toast(notify.SeveritySuccess, "Sync completed successfully")
	return nil
}

func (s *Service) Settings() store.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Get()
}

// UpdateSettings applies and persists a settings change, then re-arms
// autosave from the result. An invalid patch changes nothing.
func (s *Service) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (store.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSettingsLocked(ctx, patch)
}

func (s *Service) updateSettingsLocked(ctx context.Context, patch store.SettingsPatch) (store.Settings, error) {
	next, err := s.settings.Update(ctx, patch)
	if errors.Is(err, store.ErrInvalidSettings) {
		s.fail("Invalid settings", err)
		return s.settings.Get(), err
	}
	s.autosave.Configure(next.AutoSave, s.interval)
	s.publish(notify.Event{Type: notify.TypeSettingsChanged, Payload: next})
	if err != nil {
		s.fail("Failed to save settings", err)
		return next, err
	}
	return next, nil
}

// ConnectDropbox stores the app key and returns the authorization URL the
// client should open.
func (s *Service) ConnectDropbox(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		s.toast(notify.SeverityError, "Please enter your Dropbox App Key")
		return "", cloudsync.ErrMissingClientID
	}
	if s.dropbox == nil {
		s.toast(notify.SeverityError, "Failed to initialize Dropbox")
		return "", ErrSyncUnavailable
	}

	s.mu.Lock()
	_, err := s.updateSettingsLocked(ctx, store.SettingsPatch{DropboxKey: &key})
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	url, err := s.dropbox.AuthorizeURL(ctx, key)
	if err != nil {
		s.fail("Failed to initialize Dropbox", err)
		return "", err
	}
	return url, nil
}

// CompleteDropbox exchanges the callback code for a token and records the
// connection.
func (s *Service) CompleteDropbox(ctx context.Context, code, state string) error {
	if s.dropbox == nil {
		return ErrSyncUnavailable
	}
	key := s.Settings().DropboxKey
	if _, err := s.dropbox.Exchange(ctx, key, code, state); err != nil {
		s.fail("Failed to connect Dropbox", err)
		return err
	}

	connected := true
	s.mu.Lock()
	_, err := s.updateSettingsLocked(ctx, store.SettingsPatch{DropboxConnected: &connected})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.toast(notify.SeveritySuccess, "Dropbox connected")
	return nil
}

func (s *Service) DisconnectDropbox(ctx context.Context) error {
	if s.dropbox == nil {
		return ErrSyncUnavailable
	}
	if err := s.dropbox.Disconnect(ctx); err != nil {
		s.fail("Failed to disconnect Dropbox", err)
		return err
	}
	connected := false
	s.mu.Lock()
	_, err := s.updateSettingsLocked(ctx, store.SettingsPatch{DropboxConnected: &connected})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.toast(notify.SeverityInfo, "Dropbox disconnected")
	return nil
}

func (s *Service) DocumentHistory(id string, limit int) ([]history.Revision, error) {
	if _, err := s.GetDocument(id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	return s.history.History(id, limit)
}

func (s *Service) DocumentRevision(id, hash string) (history.Snapshot, error) {
	if _, err := s.GetDocument(id); err != nil {
		return history.Snapshot{}, err
	}
	if s.history == nil {
		return history.Snapshot{}, history.ErrRevisionNotFound
	}
	return s.history.Snapshot(id, hash)
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset})
}

// flushTick is the autosave flush. The tick is re-validated under the state
// lock so a document switch or a settings change in between wins.
func (s *Service) flushTick(ctx context.Context, tick autosave.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.autosave.Valid(tick) {
		return nil
	}
	doc, err := s.docs.Load(tick.DocumentID)
	if err != nil {
		return nil
	}
	_, err = s.saveLocked(ctx, doc, "Autosave "+titleOrDefault(doc.Title))
	return err
}

func (s *Service) saveLocked(ctx context.Context, doc store.Document, message string) (store.Document, error) {
	saved, err := s.docs.Save(ctx, doc)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, err
		}
		s.publish(notify.Event{Type: notify.TypeDocumentsChanged, DocumentID: doc.ID})
		s.fail("Failed to save document", err)
		return saved, err
	}

	if s.autosave.MarkSaved(saved.ID) {
		s.publish(dirtyEvent(saved.ID, false))
	}
	s.indexLocked(saved)
	if s.history != nil {
		if _, _, herr := s.history.Record(saved, message); herr != nil {
			s.log.WithError(herr).WithField("document_id", saved.ID).Warn("record document revision")
		}
	}
	s.publish(notify.Event{Type: notify.TypeDocumentSaved, DocumentID: saved.ID, Payload: saved.LastModified})
	s.toast(notify.SeveritySuccess, "Document saved")
	return saved, nil
}

func (s *Service) setActiveLocked(id string) {
	if id == s.activeID {
		return
	}
	s.activeID = id
	s.autosave.SetActive(id)
	s.publish(notify.Event{Type: notify.TypeActiveChanged, DocumentID: id})
}

func (s *Service) markDirtyLocked(id string) {
	if s.autosave.MarkDirty(id) {
		s.publish(dirtyEvent(id, true))
	}
}

func (s *Service) indexLocked(doc store.Document) {
	if s.search != nil {
		s.search.Index(search.RecordFrom(doc))
	}
}

// forgetCloudToken drops credentials the remote rejected so the client shows
// the connect flow again.
func (s *Service) forgetCloudToken(ctx context.Context) {
	if s.dropbox == nil {
		return
	}
	if err := s.dropbox.Disconnect(ctx); err != nil {
		s.log.WithError(err).Warn("drop rejected cloud token")
	}
	connected := false
	s.mu.Lock()
	_, _ = s.updateSettingsLocked(ctx, store.SettingsPatch{DropboxConnected: &connected})
	s.mu.Unlock()
}

func (s *Service) publish(event notify.Event) {
	if event.At.IsZero() {
		event.At = s.now().UTC()
	}
	s.events.Publish(event)
}

func (s *Service) toast(severity notify.Severity, message string) {
	s.publish(notify.ToastEvent(severity, message))
}

// fail logs err and shows message to the user.
func (s *Service) fail(message string, err error) {
	s.log.WithError(err).Warn(message)
	s.toast(notify.SeverityError, message)
}

func dirtyEvent(id string, dirty bool) notify.Event {
	return notify.Event{Type: notify.TypeDirtyChanged, DocumentID: id, Dirty: &dirty}
}

func providerLabel(provider string) string {
	switch provider {
	case cloudsync.ProviderDropbox:
		return "Dropbox"
	case "minio":
		return "MinIO"
	case "":
		return "Cloud storage"
	default:
		return provider
	}
}

func titleOrDefault(title string) string {
	if strings.TrimSpace(title) == "" {
		return store.DefaultTitle
	}
	return title
}
