package ops

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// ErrConflict signals that a non-terminal operation with the same kind (and
// entity key, when one was supplied) already exists.
var ErrConflict = errors.New("operation already running")

// ErrNotFound signals that no live or recently completed operation matches
// the lookup. Mutation calls never return it; only lookups do.
var ErrNotFound = errors.New("operation not found")

const defaultRetainCompleted = 15 * time.Minute

// Notifier receives lifecycle events for every tracked operation. Delivery is
// best-effort and must never block; the registry remains the source of truth
// and clients that miss an event recover by polling.
type Notifier interface {
	OperationStarted(snap Snapshot)
	OperationProgress(snap Snapshot)
	OperationCompleted(snap Snapshot)
}

// Config controls Registry construction.
//   - RetainCompleted: how long finished operations stay resolvable via
//     Get/GetByEntityKey after completion (default 15m).
//   - BaseContext: parent for every operation's context; operations are
//     detached from the originating request and bound to this instead
//     (defaults to context.Background()).
//   - Notifier: optional event fan-out.
//   - Logger: optional structured logger.
type Config struct {
	RetainCompleted time.Duration
	BaseContext     context.Context
	Notifier        Notifier
	Logger          *zap.Logger
}

// Registry is the process-wide directory of background operations. It is safe
// for concurrent use by many workers and HTTP handlers: the directory and
// entity index sit behind one short-held lock, while each operation's mutable
// fields are guarded by their own per-record lock.
type Registry struct {
	cfg      Config
	logger   *zap.Logger
	notifier Notifier

	mu        sync.RWMutex
	directory map[string]*operation
	byEntity  map[entityRef]string

	// recent parks final snapshots of completed operations so clients
	// reloading right after completion can still resolve them. Entries
	// expire on their own; nothing here is persisted.
	recent *gocache.Cache
}

type entityRef struct {
	kind Kind
	key  string
}

// NewRegistry constructs a Registry ready for use for the process lifetime.
func NewRegistry(cfg Config) *Registry {
	if cfg.RetainCompleted <= 0 {
		cfg.RetainCompleted = defaultRetainCompleted
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		notifier:  cfg.Notifier,
		directory: make(map[string]*operation),
		byEntity:  make(map[entityRef]string),
		recent:    gocache.New(cfg.RetainCompleted, 2*cfg.RetainCompleted),
	}
}

// RegisterOption customizes a registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	entityKey string
	metadata  Metadata
}

// WithEntityKey scopes the operation to one entity (e.g. a game's app id) for
// idempotency and recovery lookups.
func WithEntityKey(key string) RegisterOption {
	return func(o *registerOptions) { o.entityKey = key }
}

// WithMetadata attaches the kind-specific payload mutated via UpdateMetadata.
func WithMetadata(md Metadata) RegisterOption {
	return func(o *registerOptions) { o.metadata = md }
}

// Register inserts a new running operation and returns its handle. It does
// not check for duplicates; callers either pre-check via Active or
// GetByEntityKey, or use RegisterUnique for the atomic variant.
func (r *Registry) Register(kind Kind, name string, opts ...RegisterOption) (Handle, error) {
	return r.register(kind, name, false, opts...)
}

// RegisterUnique behaves like Register but performs the uniqueness check and
// the insert under the directory lock: if a non-terminal operation of the
// same kind (and entity key, when given) exists, it returns ErrConflict and
// registers nothing.
func (r *Registry) RegisterUnique(kind Kind, name string, opts ...RegisterOption) (Handle, error) {
	return r.register(kind, name, true, opts...)
}

func (r *Registry) register(kind Kind, name string, unique bool, opts ...RegisterOption) (Handle, error) {
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("unknown operation kind %q", kind)
	}
	var ro registerOptions
	for _, opt := range opts {
		opt(&ro)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Handle{}, fmt.Errorf("generate operation id: %w", err)
	}
	ctx, cancel := context.WithCancel(r.cfg.BaseContext)
	op := &operation{
		snap: Snapshot{
			ID:        id.String(),
			Kind:      kind,
			Name:      name,
			EntityKey: ro.entityKey,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
			Metadata:  ro.metadata,
		},
		cancel: cancel,
	}

	r.mu.Lock()
	if unique && r.hasActiveLocked(kind, ro.entityKey) {
		r.mu.Unlock()
		cancel()
		return Handle{}, ErrConflict
	}
	r.directory[op.snap.ID] = op
	if ro.entityKey != "" {
		r.byEntity[entityRef{kind: kind, key: ro.entityKey}] = op.snap.ID
	}
	r.mu.Unlock()

	r.logger.Info("operation registered",
		zap.String("operation_id", op.snap.ID),
		zap.String("kind", string(kind)),
		zap.String("entity_key", ro.entityKey),
	)
	r.notify(func(n Notifier) { n.OperationStarted(op.snapshot()) })

	return Handle{ID: op.snap.ID, Kind: kind, EntityKey: ro.entityKey, Ctx: ctx}, nil
}

// hasActiveLocked reports whether a non-terminal operation of kind exists,
// scoped to entityKey when it is non-empty. Caller holds r.mu.
func (r *Registry) hasActiveLocked(kind Kind, entityKey string) bool {
	if entityKey != "" {
		_, ok := r.byEntity[entityRef{kind: kind, key: entityKey}]
		return ok
	}
	for _, op := range r.directory {
		if op.snap.Kind == kind {
			return true
		}
	}
	return false
}

// UpdateProgress records the latest percent and message for a running
// operation and notifies subscribers. Unknown or already-terminal ids are
// ignored so a worker racing completion or retention never fails.
func (r *Registry) UpdateProgress(id string, percent float64, message string) {
	op := r.lookup(id)
	if op == nil {
		return
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	op.mu.Lock()
	if op.snap.Status.Terminal() {
		op.mu.Unlock()
		return
	}
	op.snap.PercentComplete = percent
	op.snap.Message = message
	snap := op.snap.clone()
	op.mu.Unlock()

	r.notify(func(n Notifier) { n.OperationProgress(snap) })
}

// UpdateMetadata applies mutate to the operation's metadata under its lock so
// counter increments never race progress updates. Unknown or terminal ids are
// ignored; mutate is not called when the operation has no metadata.
func (r *Registry) UpdateMetadata(id string, mutate func(Metadata)) {
	op := r.lookup(id)
	if op == nil || mutate == nil {
		return
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.snap.Status.Terminal() || op.snap.Metadata == nil {
		return
	}
	mutate(op.snap.Metadata)
}

// Complete transitions the operation to its terminal state: completed on
// success, cancelled when opErr is the operation context's cancellation, and
// failed otherwise. The first call wins; later calls and calls with unknown
// ids are no-ops. The final snapshot stays resolvable for the retention
// window, after which it expires.
func (r *Registry) Complete(id string, success bool, opErr error) {
	r.mu.Lock()
	op, ok := r.directory[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.directory, id)
	if op.snap.EntityKey != "" {
		delete(r.byEntity, entityRef{kind: op.snap.Kind, key: op.snap.EntityKey})
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	op.mu.Lock()
	if op.snap.Status.Terminal() {
		op.mu.Unlock()
		return
	}
	switch {
	case success:
		op.snap.Status = StatusCompleted
		op.snap.PercentComplete = 100
	case errors.Is(opErr, context.Canceled):
		op.snap.Status = StatusCancelled
		op.snap.Message = "Cancelled by user"
	default:
		op.snap.Status = StatusFailed
		if opErr != nil {
			op.snap.Error = opErr.Error()
		} else {
			op.snap.Error = "operation failed"
		}
	}
	op.snap.CompletedAt = &now
	snap := op.snap.clone()
	op.mu.Unlock()

	op.cancel()
	r.park(snap)

	r.logger.Info("operation finished",
		zap.String("operation_id", snap.ID),
		zap.String("kind", string(snap.Kind)),
		zap.String("status", string(snap.Status)),
		zap.Duration("elapsed", now.Sub(snap.StartedAt)),
	)
	r.notify(func(n Notifier) { n.OperationCompleted(snap) })
}

// Cancel requests cooperative cancellation of a running operation. It only
// signals the operation's context; the owning worker observes it and performs
// the terminal transition itself. The return value reports whether a running
// operation existed.
func (r *Registry) Cancel(id string) bool {
	op := r.lookup(id)
	if op == nil {
		return false
	}
	r.logger.Info("operation cancellation requested", zap.String("operation_id", id))
	op.cancel()
	return true
}

// Active returns snapshots of all non-terminal operations of one kind.
func (r *Registry) Active(kind Kind) []Snapshot {
	return r.active(func(s Snapshot) bool { return s.Kind == kind })
}

// ActiveAll returns snapshots of every non-terminal operation.
func (r *Registry) ActiveAll() []Snapshot {
	return r.active(func(Snapshot) bool { return true })
}

func (r *Registry) active(keep func(Snapshot) bool) []Snapshot {
	r.mu.RLock()
	live := make([]*operation, 0, len(r.directory))
	for _, op := range r.directory {
		live = append(live, op)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(live))
	for _, op := range live {
		snap := op.snapshot()
		if !snap.Status.Terminal() && keep(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// Get resolves an operation by id, consulting live operations first and then
// the recently completed window. It returns ErrNotFound for ids the registry
// no longer (or never did) know, which callers turn into HTTP 404s.
func (r *Registry) Get(id string) (Snapshot, error) {
	if op := r.lookup(id); op != nil {
		return op.snapshot(), nil
	}
	if v, ok := r.recent.Get(recentIDKey(id)); ok {
		return v.(Snapshot).clone(), nil
	}
	return Snapshot{}, ErrNotFound
}

// GetByEntityKey resolves the in-flight or just-completed operation for one
// kind+entity pair. Clients use it to recover UI state after a reload
// without knowing the operation id.
func (r *Registry) GetByEntityKey(kind Kind, entityKey string) (Snapshot, error) {
	r.mu.RLock()
	id, ok := r.byEntity[entityRef{kind: kind, key: entityKey}]
	var op *operation
	if ok {
		op = r.directory[id]
	}
	r.mu.RUnlock()

	if op != nil {
		return op.snapshot(), nil
	}
	if v, found := r.recent.Get(recentEntityKey(kind, entityKey)); found {
		return v.(Snapshot).clone(), nil
	}
	return Snapshot{}, ErrNotFound
}

func (r *Registry) lookup(id string) *operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.directory[id]
}

func (r *Registry) park(snap Snapshot) {
	r.recent.SetDefault(recentIDKey(snap.ID), snap)
	if snap.EntityKey != "" {
		r.recent.SetDefault(recentEntityKey(snap.Kind, snap.EntityKey), snap)
	}
}

func (r *Registry) notify(fn func(Notifier)) {
	if r.notifier == nil {
		return
	}
	fn(r.notifier)
}

func recentIDKey(id string) string {
	return "id/" + id
}

func recentEntityKey(kind Kind, key string) string {
	return "entity/" + string(kind) + "/" + key
}
