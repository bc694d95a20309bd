// Package flowlist keeps a user's flow list and selection in sync with the
// flowstudio server.
//
// A Store is the only owner of the list. Reads return copies. Writes go through
// Load, Save, Delete, RemoveRemote and the selection calls, and every write that
// touches an entry stamps it with the store's next mutation sequence number. A Load
// remembers the sequence number it was issued at, so when its response arrives
// entries changed locally in the meantime keep their local shape and ids deleted
// in the meantime stay deleted. Responses of a Load that was overtaken by a later
// Load are dropped.
package flowlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"

	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// ErrClosed is returned by operations on a closed Store, and by operations whose
// response arrived after Close
var ErrClosed = errors.New("flow store closed")

// FlowSource is the remote flow collection
type FlowSource interface {
	ListFlows(ctx context.Context, username string) ([]models.FlowSummary, error)
	DeleteFlow(ctx context.Context, id string) error
}

// IndexService lists and creates vector indexes
type IndexService interface {
	ListIndexes(ctx context.Context) (vectorindex.IndexList, error)
	CreateIndex(ctx context.Context, req vectorindex.CreateIndexRequest) (vectorindex.Index, error)
}

// Options configures a Store
type Options struct {
	Logger *slog.Logger

	// Retry bounds EnsureIndex retries; nil uses DefaultRetryPolicy
	Retry RetryPolicy
}

// Snapshot is a point-in-time copy of the store for presentation code
type Snapshot struct {
	Flows    []models.FlowSummary
	Selected string // empty when nothing is selected
}

type entry struct {
	summary models.FlowSummary
	// version is the mutation sequence of the last local write, 0 when the
	// entry came from the server
	version uint64
}

// Store is the local flow list of one user
type Store struct {
	source  FlowSource
	indexes IndexService
	retry   RetryPolicy
	logger  *slog.Logger

	mu         sync.Mutex
	entries    []entry
	selected   string
	seq        uint64
	tombstones map[string]uint64
	issued     uint64
	applied    uint64
	closed     bool

	life   context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
	group  singleflight.Group
}

// NewStore creates an empty store. indexes may be nil, which disables EnsureIndex.
func NewStore(source FlowSource, indexes IndexService, opts Options) *Store {
	life, cancel := context.WithCancel(context.Background())
	s := &Store{
		source:     source,
		indexes:    indexes,
		retry:      opts.Retry,
		logger:     logging.OrDiscard(opts.Logger),
		tombstones: make(map[string]uint64),
		life:       life,
		cancel:     cancel,
	}
	if s.retry == nil {
		s.retry = DefaultRetryPolicy
	}
	return s
}

// bind ties ctx to the store lifetime
func (s *Store) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Load fetches the user's flows and reconciles them into the list. On failure
// the list is left as it was. The vector index check runs in the background and
// its outcome is only logged.
func (s *Store) Load(ctx context.Context, username string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.indexes != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if err := s.EnsureIndex(s.life, username); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Warn("vector index check failed", "username", username, "error", err)
			}
		}()
	}
	s.mu.Unlock()

	return s.reconcile(ctx, username)
}

// reconcile is the flow fetch of Load
func (s *Store) reconcile(ctx context.Context, username string) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.issued++
	gen, startSeq := s.issued, s.seq
	s.mu.Unlock()

	flows, err := s.source.ListFlows(ctx, username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("dropping flow list response after close", "username", username)
		return ErrClosed
	}
	if err != nil {
		s.logger.Error("failed to load flows", "username", username, "error", err)
		return fmt.Errorf("failed to load flows: %w", err)
	}
	if gen <= s.applied {
		s.logger.Debug("dropping stale flow list response", "username", username, "load", gen, "applied", s.applied)
		return nil
	}

	s.applied = gen
	s.apply(flows, startSeq)
	s.logger.Debug("flows loaded", "username", username, "count", len(s.entries))
	return nil
}

// apply replaces the list with a server response issued at startSeq
func (s *Store) apply(flows []models.FlowSummary, startSeq uint64) {
	newer := make(map[string]entry)
	for _, e := range s.entries {
		if e.version > startSeq {
			newer[e.summary.ID] = e
		}
	}

	seen := make(map[string]bool, len(flows))
	next := make([]entry, 0, len(flows)+len(newer))
	for _, f := range flows {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true

		if deletedAt, ok := s.tombstones[f.ID]; ok && deletedAt > startSeq {
			continue
		}
		if e, ok := newer[f.ID]; ok {
			next = append(next, e)
			continue
		}
		next = append(next, entry{summary: f})
	}

	// Saved after the fetch went out; the server did not know them yet
	for _, e := range s.entries {
		if e.version > startSeq && !seen[e.summary.ID] {
			next = append(next, e)
		}
	}

	for id, deletedAt := range s.tombstones {
		if deletedAt <= startSeq {
			delete(s.tombstones, id)
		}
	}

	s.entries = next
}

// Select sets the selection. The id is not checked against the list.
func (s *Store) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
}

// ClearSelection clears the selection
func (s *Store) ClearSelection() {
	s.Select("")
}

// Selected returns the selected id, if any
func (s *Store) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.selected != ""
}

// Delete deletes the flow on the server and then removes it locally. On failure
// the list and selection are unchanged. Deletes are not retried.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	if s.isClosed() {
		return ErrClosed
	}

	err := s.source.DeleteFlow(ctx, id)
	if s.isClosed() {
		return ErrClosed
	}
	if err != nil {
		s.logger.Error("failed to delete flow", "flow_id", id, "error", err)
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	s.RemoveRemote(id)
	return nil
}

// RemoveRemote removes a flow that is already gone on the server, for example
// after a deleted event. The selection is cleared when it pointed at id.
func (s *Store) RemoveRemote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.seq++
	s.tombstones[id] = s.seq
	for i, e := range s.entries {
		if e.summary.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	if s.selected == id {
		s.selected = ""
	}
}

// Save records a flow the editor has persisted. A nil flow means the editor
// cleared its active flow and only clears the selection. Otherwise the flow
// replaces its entry in place or is appended, becomes the selection, and the
// list is reloaded from the server. The local change survives a failed reload.
func (s *Store) Save(ctx context.Context, username string, saved *models.FlowSummary) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if saved == nil {
		s.selected = ""
		s.mu.Unlock()
		return nil
	}

	s.seq++
	updated := entry{summary: *saved, version: s.seq}
	delete(s.tombstones, saved.ID)

	replaced := false
	for i, e := range s.entries {
		if e.summary.ID == saved.ID {
			s.entries[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, updated)
	}
	s.selected = saved.ID
	s.mu.Unlock()

	return s.reconcile(ctx, username)
}

// HandleEvent applies a flow event pushed by the server. Saved events reload
// the list without touching the selection; deleted events remove the flow.
func (s *Store) HandleEvent(ctx context.Context, username string, event models.FlowEvent) error {
	switch event.Type {
	case models.FlowSaved:
		return s.reconcile(ctx, username)
	case models.FlowDeleted:
		s.RemoveRemote(event.FlowID)
		return nil
	default:
		return fmt.Errorf("unknown flow event type: %s", event.Type)
	}
}

// Flows returns a copy of the list
func (s *Store) Flows() []models.FlowSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flowsLocked()
}

func (s *Store) flowsLocked() []models.FlowSummary {
	flows := make([]models.FlowSummary, len(s.entries))
	for i, e := range s.entries {
		flows[i] = e.summary
	}
	return flows
}

// Snapshot returns a copy of the list and the selection
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Flows: s.flowsLocked(), Selected: s.selected}
}

// FilteredView returns the flows whose name contains term, ignoring case. An
// empty term returns every flow.
func (s *Store) FilteredView(term string) []models.FlowSummary {
	return Filter(s.Flows(), term)
}

// Filter is the matching behind FilteredView. The result never shares
// memory with flows.
func Filter(flows []models.FlowSummary, term string) []models.FlowSummary {
	if term == "" {
		return append([]models.FlowSummary(nil), flows...)
	}

	fold := cases.Fold()
	needle := fold.String(term)

	matched := make([]models.FlowSummary, 0, len(flows))
	for _, f := range flows {
		if strings.Contains(fold.String(f.Name), needle) {
			matched = append(matched, f)
		}
	}
	return matched
}

// Close cancels in-flight operations and waits for background index checks.
// Responses that arrive afterwards are dropped.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.bg.Wait()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
