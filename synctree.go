package synctree

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"go.uber.org/zap"
)

type runState uint8

const (
	stateNotStarted runState = iota
	stateRunning
	stateStopped
)

// Tree is the synchronization and materialization engine. It layers a
// mutable logical directory tree over a replicated tree index and a
// content-addressed blob store, and keeps a single root CID for the
// whole tree current across local mutation and remote replication.
type Tree struct {
	index  Index
	store  BlobStore
	parser Parser
	log    *zap.Logger

	onStop      func()
	loadOnStart bool

	bus   *bus
	queue *serialQueue

	mu       sync.Mutex
	state    runState
	emptyCID CID
	rootCID  CID
	cancels  []func()
}

// New constructs an engine bound to the given index and blob store.
// With WithAutoStart the engine is started before New returns.
func New(index Index, store BlobStore, opts ...Option) (*Tree, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	t := &Tree{
		index:       index,
		store:       store,
		parser:      options.Parser,
		log:         options.Logger,
		onStop:      options.OnStop,
		loadOnStart: options.Load,
		bus:         newBus(),
	}

	if options.AutoStart {
		if err := t.Start(context.Background()); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Start resolves the canonical empty-content identifier, optionally
// loads the index, subscribes to replication and mutation signals and
// triggers the initial recompute. Calling Start on an engine that is
// not in its initial state is a safe no-op.
func (t *Tree) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateNotStarted {
		t.mu.Unlock()
		return nil
	}

	empty, err := t.addEmpty(ctx)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("resolve empty content: %w", err)
	}
	t.emptyCID = empty

	if t.loadOnStart {
		if err := t.index.Load(); err != nil {
			t.mu.Unlock()
			return fmt.Errorf("load index: %w", err)
		}
	}

	t.queue = newSerialQueue()

	t.cancels = append(t.cancels, t.index.OnReplicated(func() {
		t.schedule("replicated")
	}))
	for _, ev := range mutationEvents {
		trigger := string(ev)
		t.cancels = append(t.cancels, t.bus.subscribe(ev, func(string) {
			t.schedule(trigger)
		}))
	}

	t.state = stateRunning
	t.mu.Unlock()

	// Scheduling and publishing reenter the engine (schedule takes the
	// lock, start subscribers may call back in), so both happen after
	// the lock is released.
	t.schedule("start")
	t.bus.publish(EventStart, "")
	t.log.Info("engine started", zap.String("address", t.index.Address()))
	return nil
}

// Stop invokes the teardown hook, unsubscribes all listeners, drains
// the recompute queue and then destroys (drop) or gracefully closes
// the index. Calling Stop on an engine that is not running is a safe
// no-op.
func (t *Tree) Stop(drop bool) error {
	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return nil
	}
	t.state = stateStopped
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()

	if t.onStop != nil {
		t.onStop()
	}
	for _, cancel := range cancels {
		cancel()
	}

	// Drain before releasing the index so no recompute ever touches a
	// closed index.
	t.queue.Close()
	t.bus.publish(EventStop, "")

	if drop {
		if err := t.index.Drop(); err != nil {
			return fmt.Errorf("drop index: %w", err)
		}
	} else if err := t.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	t.log.Info("engine stopped", zap.Bool("drop", drop))
	return nil
}

// Subscribe registers fn for an engine event. The returned func
// cancels the subscription.
func (t *Tree) Subscribe(ev Event, fn func(detail string)) (cancel func()) {
	return t.bus.subscribe(ev, fn)
}

// Flush blocks until the recompute queue is idle.
func (t *Tree) Flush() {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q != nil {
		q.Flush()
	}
}

// Root returns the most recently recomputed root CID. It is empty
// until the initial recompute completes.
func (t *Tree) Root() CID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCID
}

// Empty returns the canonical empty-content identifier resolved at
// Start.
func (t *Tree) Empty() CID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emptyCID
}

// Address returns the index's opaque network/identity handle.
func (t *Tree) Address() string {
	return t.index.Address()
}

// Mkdir creates a directory named name under path.
func (t *Tree) Mkdir(path, name string) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	parent := Normalize(path)
	if !t.index.Exists(parent) {
		return fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	if t.index.Content(parent) != KindDir {
		return fmt.Errorf("%w: %s", ErrNotDir, parent)
	}
	target := t.index.JoinPath(parent, name)
	if t.index.Exists(target) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, target)
	}
	if err := t.index.Mkdir(parent, name); err != nil {
		return err
	}
	t.bus.publish(EventMkdir, target)
	return nil
}

// Mkfile creates an empty file named name under path. Its content is
// the empty-content identifier until Mutate assigns a real CID.
func (t *Tree) Mkfile(path, name string) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	parent := Normalize(path)
	if !t.index.Exists(parent) {
		return fmt.Errorf("%w: %s", ErrNotFound, parent)
	}
	if t.index.Content(parent) != KindDir {
		return fmt.Errorf("%w: %s", ErrNotDir, parent)
	}
	target := t.index.JoinPath(parent, name)
	if t.index.Exists(target) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, target)
	}
	if err := t.index.Mk(parent, name); err != nil {
		return err
	}
	t.bus.publish(EventMkfile, target)
	return nil
}

// Mutate overwrites the stored CID for an existing file path.
func (t *Tree) Mutate(path string, cid CID) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	p := Normalize(path)
	if !t.index.Exists(p) {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if t.index.Content(p) != KindFile {
		return fmt.Errorf("%w: %s", ErrNotFile, p)
	}
	parsed, err := t.parser.Parse(cid.String())
	if err != nil {
		return err
	}
	if err := t.index.Write(p, parsed.String()); err != nil {
		return err
	}
	t.bus.publish(EventMutate, p)
	return nil
}

// Remove removes a file, or a directory and everything beneath it.
func (t *Tree) Remove(path string) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	p := Normalize(path)
	switch t.index.Content(p) {
	case KindFile:
		if err := t.index.Rm(p); err != nil {
			return err
		}
	case KindDir:
		if err := t.index.Rmdir(p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	t.bus.publish(EventRemove, p)
	return nil
}

// Upload folds a sequence of blob-store add results into the index
// under path, which must be an existing directory. Results arrive
// bottom-up from the store and are reversed so parent directories are
// indexed before their children; each file's resulting CID is written
// into the index. Blob-store and index errors are logged with their
// full context and rethrown.
func (t *Tree) Upload(ctx context.Context, path string, results iter.Seq2[AddResult, error]) error {
	if err := t.requireRunning(); err != nil {
		return err
	}
	p := Normalize(path)
	if !t.index.Exists(p) {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if t.index.Content(p) != KindDir {
		return fmt.Errorf("%w: %s", ErrNotDir, p)
	}

	var added []AddResult
	for r, err := range results {
		if err != nil {
			t.log.Error("upload failed draining add results",
				zap.String("target", p),
				zap.Error(err))
			return fmt.Errorf("upload %s: %w", p, err)
		}
		added = append(added, r)
	}
	slices.Reverse(added)

	for _, r := range added {
		if r.Path == "" {
			// The wrapping directory maps onto the target itself.
			continue
		}
		target := t.index.JoinPath(p, r.Path)
		parent, name := Split(target)
		if r.Dir {
			if t.index.Content(target) == KindAbsent {
				if err := t.index.Mkdir(parent, name); err != nil {
					t.log.Error("upload failed creating directory",
						zap.String("target", p),
						zap.String("entry", target),
						zap.Error(err))
					return fmt.Errorf("upload %s: mkdir %s: %w", p, target, err)
				}
			}
			continue
		}
		if t.index.Content(target) == KindAbsent {
			if err := t.index.Mk(parent, name); err != nil {
				t.log.Error("upload failed creating file",
					zap.String("target", p),
					zap.String("entry", target),
					zap.Error(err))
				return fmt.Errorf("upload %s: mkfile %s: %w", p, target, err)
			}
		}
		if err := t.index.Write(target, r.CID.String()); err != nil {
			t.log.Error("upload failed writing identifier",
				zap.String("target", p),
				zap.String("entry", target),
				zap.String("cid", r.CID.String()),
				zap.Error(err))
			return fmt.Errorf("upload %s: write %s: %w", p, target, err)
		}
	}

	t.bus.publish(EventUpload, p)
	return nil
}

// Read returns the materialized CID for the subtree rooted at path: a
// file's own CID, or a directory's recomputed manifest CID. The root
// path always resolves while the engine is running; internal
// materialization failures are logged, published on the event bus and
// mapped to the empty-content identifier rather than propagated.
func (t *Tree) Read(ctx context.Context, path string) (CID, error) {
	t.mu.Lock()
	if t.state != stateRunning {
		t.mu.Unlock()
		return "", ErrNotRunning
	}
	cachedRoot := t.rootCID
	empty := t.emptyCID
	t.mu.Unlock()

	p := Normalize(path)
	if !t.index.Exists(p) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if p == RootPath && cachedRoot != "" {
		return cachedRoot, nil
	}

	cid, err := t.materialize(ctx, p)
	if err != nil {
		t.log.Error("materialize failed",
			zap.String("path", p),
			zap.Error(err))
		t.bus.publish(EventError, err.Error())
		return empty, nil
	}
	return cid, nil
}

func (t *Tree) requireRunning() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateRunning {
		return ErrNotRunning
	}
	return nil
}

// schedule enqueues a recompute job. Triggers arriving while a job is
// already waiting are coalesced by the queue.
func (t *Tree) schedule(trigger string) {
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return
	}
	if !q.Enqueue(func() { t.recompute(trigger) }) {
		t.log.Debug("recompute coalesced", zap.String("trigger", trigger))
	}
}

// recompute re-derives the root CID from current index state. Failures
// are logged and published as error events; the cached root falls back
// to the empty-content identifier so the root never stops resolving.
func (t *Tree) recompute(trigger string) {
	cid, err := t.materialize(context.Background(), RootPath)
	if err != nil {
		t.log.Error("recompute failed",
			zap.String("trigger", trigger),
			zap.Error(err))
		t.bus.publish(EventError, err.Error())
		t.mu.Lock()
		cid = t.emptyCID
		t.rootCID = cid
		t.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.rootCID = cid
	t.mu.Unlock()
	t.log.Debug("root recomputed",
		zap.String("trigger", trigger),
		zap.String("root", cid.String()))
}

// addEmpty resolves the canonical empty-content identifier by adding a
// zero-length payload to the blob store.
func (t *Tree) addEmpty(ctx context.Context) (CID, error) {
	var last AddResult
	n := 0
	for r, err := range t.store.Add(ctx, []Entry{{Content: Bytes(nil)}}, AddOptions{Pin: true}) {
		if err != nil {
			return "", err
		}
		last = r
		n++
	}
	if n == 0 {
		return "", fmt.Errorf("blob store emitted no result for empty payload")
	}
	return last.CID, nil
}
