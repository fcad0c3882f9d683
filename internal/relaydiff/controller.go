package relaydiff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type State int

const (
	StateRegistering State = iota
	StatePolling
	StateSettled
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateRegistering:
		return "registering"
	case StatePolling:
		return "polling"
	case StateSettled:
		return "settled"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Surface is the rendering side of a viewer.
type Surface interface {
	OnCurrentFileChanged(meta SessionMetadata, diff string)
	OnSidebarChanged(groups []DirectoryGroup)
	RequestRedraw()
}

// Host is the environment a viewer runs in.
type Host interface {
	Close()
	SetTitle(title string)
}

type nopSurface struct{}

func (nopSurface) OnCurrentFileChanged(SessionMetadata, string) {}
func (nopSurface) OnSidebarChanged([]DirectoryGroup)            {}
func (nopSurface) RequestRedraw()                               {}

type nopHost struct{}

func (nopHost) Close()         {}
func (nopHost) SetTitle(string) {}

type ControllerOptions struct {
	Surface  Surface
	Host     Host
	Notifier ChangeNotifier
	Logger   Logger
	Now      func() time.Time
}

// ViewState is a point-in-time copy of what a viewer shows.
type ViewState struct {
	State          State
	Current        SessionMetadata
	Diff           string
	Groups         []DirectoryGroup
	SidebarVisible bool
}

// Controller coordinates one viewer with its siblings: it registers the
// viewer's entry, polls the batch window until the poll timeout, closes the
// viewer when a newer sibling exists, and tracks the navigation cursor.
type Controller struct {
	svc      *Service
	cfg      Config
	self     SessionMetadata
	diff     string
	surface  Surface
	host     Host
	notifier ChangeNotifier
	logger   Logger
	now      func() time.Time
	started  time.Time

	saved atomic.Bool

	mu             sync.Mutex
	state          State
	files          []SessionMetadata
	groups         []DirectoryGroup
	current        SessionMetadata
	currentDiff    string
	sidebarVisible bool
	sidebarPinned  bool
}

func NewController(svc *Service, self SessionMetadata, diff string, opts ControllerOptions) (*Controller, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: service is required", ErrInvalidInput)
	}
	if err := self.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		svc:      svc,
		cfg:      svc.Config(),
		diff:     diff,
		surface:  opts.Surface,
		host:     opts.Host,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if c.surface == nil {
		c.surface = nopSurface{}
	}
	if c.host == nil {
		c.host = nopHost{}
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.started = c.now()
	if self.RegisteredAt == 0 {
		self.RegisteredAt = UnixMillis(c.started)
	}
	c.self = self
	c.current = self
	c.currentDiff = diff
	c.files = []SessionMetadata{self}
	c.groups = c.layout(c.files)
	return c, nil
}

func (c *Controller) Self() SessionMetadata {
	return c.self
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ViewState{
		State:          c.state,
		Current:        c.current,
		Diff:           c.currentDiff,
		Groups:         append([]DirectoryGroup(nil), c.groups...),
		SidebarVisible: c.sidebarVisible,
	}
}

// Run registers the viewer and polls until the poll timeout elapses, a newer
// sibling is found, or ctx is cancelled. It returns the state it stopped in.
func (c *Controller) Run(ctx context.Context) State {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.host.SetTitle(c.self.DisplayPath())
	c.surface.OnCurrentFileChanged(c.self, c.diff)
	c.surface.OnSidebarChanged(c.groupsCopy())
	c.surface.RequestRedraw()

	go c.register(ctx)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	var wake <-chan struct{}
	if c.notifier != nil {
		wake = c.notifier.Changes()
	}
	for {
		select {
		case <-ctx.Done():
			return c.State()
		case <-ticker.C:
		case <-wake:
		}
		if c.tick(ctx) {
			return c.State()
		}
	}
}

// tick runs one poll step and reports whether polling is over.
func (c *Controller) tick(ctx context.Context) bool {
	if c.now().Sub(c.started) > c.cfg.PollTimeout {
		c.mu.Lock()
		if c.state == StatePolling {
			c.state = StateSettled
		}
		state := c.state
		c.mu.Unlock()
		c.logger.Printf("relaydiff: poll window elapsed for %s (%s)", c.self.EntryID(), state)
		return true
	}
	if !c.saved.Load() {
		return false
	}
	c.refresh(ctx)

	count, err := c.svc.CountInWindow(ctx, c.self.DirectoryHash, c.self.BatchTimestamp)
	if err != nil {
		// fail open: keep the viewer rather than closing on a read error
		c.logger.Printf("relaydiff: sibling count for %s failed: %v", c.self.EntryID(), err)
		count = 0
	}
	if count > 1 && !c.isNewest() {
		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()
		c.logger.Printf("relaydiff: newer sibling found for %s, closing", c.self.EntryID())
		c.host.Close()
		return true
	}
	return false
}

func (c *Controller) register(ctx context.Context) {
	delay := c.cfg.RegisterRetryDelay
	for attempt := 1; ; attempt++ {
		err := c.svc.Register(ctx, c.self, c.diff)
		if err == nil {
			c.saved.Store(true)
			c.mu.Lock()
			if c.state == StateRegistering {
				c.state = StatePolling
			}
			c.mu.Unlock()
			return
		}
		c.logger.Printf("relaydiff: register %s attempt %d/%d failed: %v", c.self.EntryID(), attempt, c.cfg.RegisterAttempts, err)
		if attempt >= c.cfg.RegisterAttempts || errors.Is(err, ErrInvalidInput) {
			return
		}
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return
		}
		delay *= 2
	}
}

// refresh reloads the batch from the store and republishes the sidebar.
func (c *Controller) refresh(ctx context.Context) {
	batch, err := c.svc.Batch(ctx, c.self.DirectoryHash, c.self.BatchTimestamp)
	if err != nil {
		c.logger.Printf("relaydiff: collect batch for %s failed: %v", c.self.EntryID(), err)
		return
	}
	if len(batch) == 0 {
		return
	}
	groups := c.layout(batch)
	flat := Flatten(groups)

	c.mu.Lock()
	changed := !sameEntries(c.files, flat)
	c.files = flat
	c.groups = groups
	reveal := len(flat) > 1 && !c.sidebarVisible && !c.sidebarPinned
	if reveal {
		c.sidebarVisible = true
	}
	c.mu.Unlock()

	if changed {
		c.surface.OnSidebarChanged(groups)
	}
	if changed || reveal {
		c.surface.RequestRedraw()
	}
}

// isNewest reports whether no known sibling registered after this viewer.
// Ties on the registration instant go to the larger entry id.
func (c *Controller) isNewest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	mine := c.self.registrationInstant()
	myID := c.self.EntryID()
	for _, meta := range c.files {
		instant := meta.registrationInstant()
		if instant > mine || (instant == mine && meta.EntryID() > myID) {
			return false
		}
	}
	return true
}

func (c *Controller) layout(files []SessionMetadata) []DirectoryGroup {
	if c.cfg.ShouldCollapseIntoGroups {
		return GroupByDirectory(files)
	}
	return SingleGroup(files)
}

func (c *Controller) groupsCopy() []DirectoryGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DirectoryGroup(nil), c.groups...)
}

// SelectFile loads meta's diff and makes it the current file.
func (c *Controller) SelectFile(ctx context.Context, meta SessionMetadata) error {
	diff := c.diff
	if meta.EntryID() != c.self.EntryID() {
		blob, err := c.svc.Blob(ctx, meta)
		if err != nil {
			c.logger.Printf("relaydiff: load diff for %s failed: %v", meta.EntryID(), err)
			return err
		}
		diff = blob.Diff
	}

	c.mu.Lock()
	c.current = meta
	c.currentDiff = diff
	c.mu.Unlock()

	c.host.SetTitle(meta.DisplayPath())
	c.surface.OnCurrentFileChanged(meta, diff)
	if c.saved.Load() {
		c.refresh(ctx)
	}
	c.surface.RequestRedraw()
	return nil
}

// SelectEntry selects a file of the current batch by entry id.
func (c *Controller) SelectEntry(ctx context.Context, entryID string) error {
	c.mu.Lock()
	idx := indexOfEntry(c.files, entryID)
	var target SessionMetadata
	if idx >= 0 {
		target = c.files[idx]
	}
	c.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	return c.SelectFile(ctx, target)
}

// Next moves to the following file; on the last file it does nothing.
func (c *Controller) Next(ctx context.Context) error {
	return c.step(ctx, 1)
}

// Previous moves to the preceding file; on the first file it does nothing.
func (c *Controller) Previous(ctx context.Context) error {
	return c.step(ctx, -1)
}

func (c *Controller) step(ctx context.Context, delta int) error {
	c.mu.Lock()
	idx := indexOfEntry(c.files, c.current.EntryID())
	target := idx + delta
	if idx < 0 || target < 0 || target >= len(c.files) {
		c.mu.Unlock()
		return nil
	}
	next := c.files[target]
	c.mu.Unlock()
	return c.SelectFile(ctx, next)
}

// ToggleSidebar flips sidebar visibility. Once toggled by hand the poll no
// longer reveals it.
func (c *Controller) ToggleSidebar() bool {
	c.mu.Lock()
	c.sidebarVisible = !c.sidebarVisible
	c.sidebarPinned = true
	visible := c.sidebarVisible
	c.mu.Unlock()
	c.surface.RequestRedraw()
	return visible
}

func indexOfEntry(files []SessionMetadata, entryID string) int {
	for i, meta := range files {
		if meta.EntryID() == entryID {
			return i
		}
	}
	return -1
}

func sameEntries(a, b []SessionMetadata) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].EntryID() != b[i].EntryID() {
			return false
		}
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
