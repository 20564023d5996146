// Package delivery mirrors one delivery order on a client: the order row,
// the assigned subject and its live position, and the chat thread. Pushed
// changes are merged as they arrive, a poll catches positions that went
// quiet, and every mutation is applied by a single goroutine.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/chat"
	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/metrics"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultAvgSpeedKmh    = 30.0
	DefaultRequestTimeout = 3 * time.Second

	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
	archiveTimeout      = 30 * time.Second
	maxTrail            = 5000
)

var ErrStopped = errors.New("synchronizer stopped")

const (
	sourceOrder    = "order"
	sourceChat     = "chat"
	sourceLocation = "location"

	originPush   = "push"
	originReload = "reload"

	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultStale     = "stale"
	resultIllegal   = "illegal"
	resultIgnored   = "ignored"
	resultMalformed = "malformed"
)

type Config struct {
	PollInterval   time.Duration
	StaleAfter     time.Duration
	AvgSpeedKmh    float64
	RequestTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	// Archiver, when set, receives the order's history once it reaches a
	// terminal status.
	Archiver archive.Archiver
	Logger   *slog.Logger
	Now      func() time.Time
}

// ConfigFrom maps the loaded configuration onto a synchronizer config.
func ConfigFrom(cfg *models.Config) Config {
	return Config{
		PollInterval:   cfg.Sync.PollInterval,
		StaleAfter:     cfg.Sync.StaleAfter,
		AvgSpeedKmh:    cfg.Sync.AvgSpeedKmh,
		RequestTimeout: cfg.Backend.RequestTimeout,
		RetryMax:       cfg.Tracking.MaxBackoff,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = models.LocationStaleAfter
	}
	if c.AvgSpeedKmh <= 0 {
		c.AvgSpeedKmh = DefaultAvgSpeedKmh
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = defaultRetryMax
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// State is an immutable view of the mirrored delivery.
type State struct {
	Order      *models.DeliveryOrder
	Subject    *models.Subject
	Location   *models.SubjectLocation
	Messages   []models.ChatMessage
	DistanceKm float64
	ETAMinutes int
	Connection models.ConnectionStatus
	Terminal   bool
	UpdatedAt  time.Time
}

func (s State) clone() State {
	c := s
	c.Order = s.Order.Clone()
	if s.Subject != nil {
		subj := *s.Subject
		c.Subject = &subj
	}
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	c.Messages = append([]models.ChatMessage(nil), s.Messages...)
	return c
}

// Stats counts what happened to incoming changes.
type Stats struct {
	Applied    int
	Duplicates int
	Rejected   int
	Malformed  int
	Reloads    int
}

type snapshot struct {
	order    *models.DeliveryOrder
	subject  *models.Subject
	location *models.SubjectLocation
	messages []models.ChatMessage
}

// Inbox messages. Only the run goroutine acts on them.
type (
	change struct {
		source string
		gen    int
		ev     models.ChangeEvent
	}
	subState struct {
		source string
		gen    int
		ready  bool
		err    error
	}
	reloaded struct {
		reason string
		snap   *snapshot
		err    error
	}
)

type follower struct {
	gen    int
	cancel context.CancelFunc
	ready  bool
	lost   bool
}

type Synchronizer struct {
	orderID string
	backend repositories.Backend
	cfg     Config
	logger  *slog.Logger
	chat    *chat.Relay

	inbox      chan any
	updates    chan State
	done       chan struct{}
	finishOnce sync.Once
	wg         sync.WaitGroup

	mu      sync.RWMutex
	state   State
	stats   Stats
	started bool
	stopped bool
	cancel  context.CancelFunc

	// owned by the run goroutine once Start returns
	order      *models.DeliveryOrder
	subject    *models.Subject
	location   *models.SubjectLocation
	connection models.ConnectionStatus
	follows    map[string]*follower
	gen        int
	reloading  bool
	chatSeen   uint64
	trail      []models.SubjectLocation
	dirty      bool
}

func New(orderID string, backend repositories.Backend, cfg Config) *Synchronizer {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "delivery", "order_id", orderID)
	return &Synchronizer{
		orderID: orderID,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		chat: chat.NewRelay(orderID, backend.Chats, chat.Config{
			Logger: cfg.Logger,
			Now:    cfg.Now,
		}),
		inbox:      make(chan any, 16),
		updates:    make(chan State, 1),
		done:       make(chan struct{}),
		connection: models.ConnectionConnecting,
		follows:    make(map[string]*follower),
		state:      State{Connection: models.ConnectionConnecting},
	}
}

// Chat returns the relay holding the order's thread. Messages sent through
// it show up in the state once the backend echoes them.
func (s *Synchronizer) Chat() *chat.Relay { return s.chat }

// Start loads the order and everything attached to it, then keeps the
// mirror current until the order ends, ctx is cancelled or Stop is called.
// A missing order is fatal and reported as models.ErrNotFound.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.started = true
	s.mu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		s.connection = models.ConnectionDisconnected
		s.publish()
		s.finish()
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Error("order not found")
		}
		return fmt.Errorf("initial load of order %s: %w", s.orderID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		s.finish()
		return ErrStopped
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.order = snap.order.Clone()
	s.subject = snap.subject
	s.applyLocation(snap.location)
	s.chat.Load(snap.messages)

	if !s.order.Status.IsTerminal() {
		s.startFollow(runCtx, sourceOrder, models.ChangeFilter{Table: models.TableOrders, Column: "id", Value: s.orderID})
		s.startFollow(runCtx, sourceChat, models.ChangeFilter{Table: models.TableChatMessages, Column: "order_id", Value: s.orderID})
		if id := s.order.AssignedSubjectID; id != "" {
			s.startFollow(runCtx, sourceLocation, locationFilter(id))
		}
	}
	s.chatSeen = s.chat.Version()
	s.publish()

	s.logger.Info("order synchronization started", "status", s.order.Status, "subject_id", s.order.AssignedSubjectID)
	go s.run(runCtx)
	return nil
}

// Stop ends synchronization and waits for the subscriptions to close. It is
// safe to call more than once and from any goroutine.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if !started {
		s.finish()
		return
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
}

// Snapshot returns the latest published state.
func (s *Synchronizer) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Updates delivers state changes. Only the newest pending state is kept, so
// a slow reader skips intermediate states. The channel is closed when the
// synchronizer finishes.
func (s *Synchronizer) Updates() <-chan State { return s.updates }

// Done is closed once the synchronizer has released all its resources.
func (s *Synchronizer) Done() <-chan struct{} { return s.done }

func (s *Synchronizer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Synchronizer) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for !s.order.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		case <-ticker.C:
			s.poll(ctx)
		}
		if v := s.chat.Version(); v != s.chatSeen {
			s.chatSeen = v
			s.dirty = true
		}
		if s.dirty {
			s.publish()
		}
	}

	s.logger.Info("order reached a terminal status", "status", s.order.Status)
	s.shutdown()
	s.archive()
	s.finish()
}

func (s *Synchronizer) shutdown() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	cancel()
	s.wg.Wait()

	s.follows = make(map[string]*follower)
	s.connection = models.ConnectionDisconnected
	s.publish()
	if !s.order.Status.IsTerminal() {
		s.finish()
	}
}

func (s *Synchronizer) finish() {
	s.finishOnce.Do(func() {
		close(s.updates)
		close(s.done)
	})
}

func (s *Synchronizer) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case change:
		if f := s.follows[m.source]; f == nil || f.gen != m.gen {
			return
		}
		result := s.applyChange(ctx, m.ev)
		s.count(originPush, result)
	case subState:
		s.handleSubState(ctx, m)
	case reloaded:
		s.reloading = false
		if m.err != nil {
			s.logger.Warn("reload failed", "reason", m.reason, "error", m.err)
			return
		}
		s.merge(ctx, m.snap)
	}
}

func (s *Synchronizer) applyChange(ctx context.Context, ev models.ChangeEvent) string {
	if ev.Op == models.ChangeDelete {
		s.logger.Warn("ignoring row deletion", "table", ev.Table, "row_id", ev.RowID)
		return resultIgnored
	}

	switch ev.Table {
	case models.TableOrders:
		var o models.DeliveryOrder
		if err := decode(ev, &o); err != nil || o.ID != s.orderID {
			s.malformed(ev, err)
			return resultMalformed
		}
		return s.applyOrder(ctx, &o)
	case models.TableSubjectLocations:
		var loc models.SubjectLocation
		if err := decode(ev, &loc); err != nil {
			s.malformed(ev, err)
			return resultMalformed
		}
		return s.applyLocation(&loc)
	case models.TableChatMessages:
		var m models.ChatMessage
		if err := decode(ev, &m); err != nil || m.ID == "" {
			s.malformed(ev, err)
			return resultMalformed
		}
		if s.chat.Receive(m) || s.chat.ApplyUpdate(m) {
			return resultApplied
		}
		return resultDuplicate
	default:
		s.malformed(ev, fmt.Errorf("unexpected table %q", ev.Table))
		return resultMalformed
	}
}

func decode(ev models.ChangeEvent, v any) error {
	if len(ev.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(ev.Payload, v)
}

func (s *Synchronizer) malformed(ev models.ChangeEvent, err error) {
	if err == nil {
		err = errors.New("row does not belong to this order")
	}
	s.logger.Warn("discarding change", "table", ev.Table, "row_id", ev.RowID,
		"error", fmt.Errorf("%w: %v", models.ErrMalformed, err))
}

// applyOrder merges a newer version of the order row. Older versions,
// identical copies and moves the status graph forbids are dropped.
func (s *Synchronizer) applyOrder(ctx context.Context, next *models.DeliveryOrder) string {
	cur := s.order
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		return resultStale
	}
	if cur.Equal(next) {
		return resultDuplicate
	}
	if err := cur.ValidateTransition(next); err != nil {
		s.logger.Warn("discarding order update", "error", fmt.Errorf("%w: %v", models.ErrMalformed, err))
		return resultIllegal
	}

	s.order = next.Clone()
	s.dirty = true
	if next.Status != cur.Status {
		s.logger.Info("order status changed", "from", cur.Status, "to", next.Status)
	}
	if next.AssignedSubjectID != cur.AssignedSubjectID && !next.Status.IsTerminal() {
		s.retarget(ctx)
	}
	return resultApplied
}

// retarget points the location subscription at the newly assigned subject
// and reloads to pick up its profile and last position.
func (s *Synchronizer) retarget(ctx context.Context) {
	id := s.order.AssignedSubjectID
	s.logger.Info("assigned subject changed", "subject_id", id)

	if f := s.follows[sourceLocation]; f != nil {
		f.cancel()
		delete(s.follows, sourceLocation)
	}
	if s.location != nil && s.location.SubjectID != id {
		s.location = nil
	}
	if s.subject != nil && s.subject.ID != id {
		s.subject = nil
	}
	if id != "" {
		s.startFollow(ctx, sourceLocation, locationFilter(id))
		s.reload(ctx, "assignment")
	}
	s.updateConnection()
}

func locationFilter(subjectID string) models.ChangeFilter {
	return models.ChangeFilter{Table: models.TableSubjectLocations, Column: "subject_id", Value: subjectID}
}

func (s *Synchronizer) applyLocation(loc *models.SubjectLocation) string {
	if loc == nil {
		return resultIgnored
	}
	if loc.SubjectID == "" || loc.SubjectID != s.order.AssignedSubjectID {
		return resultIgnored
	}
	if cur := s.location; cur != nil {
		if loc.LastPing.Before(cur.LastPing) {
			return resultStale
		}
		if sameLocation(cur, loc) {
			return resultDuplicate
		}
	}
	c := *loc
	s.location = &c
	s.dirty = true
	if len(s.trail) < maxTrail {
		s.trail = append(s.trail, c)
	}
	return resultApplied
}

func sameLocation(a, b *models.SubjectLocation) bool {
	return a.SubjectID == b.SubjectID &&
		a.Location == b.Location &&
		a.Movement == b.Movement &&
		a.Online == b.Online &&
		a.Available == b.Available &&
		a.LastPing.Equal(b.LastPing)
}

func (s *Synchronizer) merge(ctx context.Context, snap *snapshot) {
	s.count(originReload, s.applyOrder(ctx, snap.order))

	id := s.order.AssignedSubjectID
	if snap.subject != nil && snap.subject.ID == id && (s.subject == nil || *s.subject != *snap.subject) {
		subj := *snap.subject
		s.subject = &subj
		s.dirty = true
	}
	if snap.location != nil {
		s.count(originReload, s.applyLocation(snap.location))
	}
	s.chat.Load(snap.messages)
}

func (s *Synchronizer) count(origin, result string) {
	metrics.SyncEventsTotal.WithLabelValues(origin, result).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch result {
	case resultApplied:
		s.stats.Applied++
	case resultDuplicate:
		s.stats.Duplicates++
	case resultStale, resultIllegal:
		s.stats.Rejected++
	case resultMalformed:
		s.stats.Malformed++
	}
}

// poll forces a reload when the assigned subject's position is older than
// StaleAfter, which usually means pushes were lost.
func (s *Synchronizer) poll(ctx context.Context) {
	if s.order.AssignedSubjectID == "" {
		return
	}
	if s.location == nil || s.location.IsStale(s.cfg.Now(), s.cfg.StaleAfter) {
		s.reload(ctx, "stale_location")
	}
}

// reload fetches everything again in the background. At most one reload is
// in flight; its result comes back through the inbox.
func (s *Synchronizer) reload(ctx context.Context, reason string) {
	if s.reloading {
		return
	}
	s.reloading = true
	metrics.SyncReloadsTotal.WithLabelValues(reason).Inc()
	s.mu.Lock()
	s.stats.Reloads++
	s.mu.Unlock()
	s.logger.Debug("reloading order", "reason", reason)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		snap, err := s.load(ctx)
		s.send(ctx, reloaded{reason: reason, snap: snap, err: err})
	}()
}

func (s *Synchronizer) load(ctx context.Context) (*snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	order, err := s.backend.Orders.Get(ctx, s.orderID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.backend.Chats.ListByOrder(ctx, s.orderID)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	snap := &snapshot{order: order, messages: msgs}

	if id := order.AssignedSubjectID; id != "" {
		subj, err := s.backend.Subjects.Get(ctx, id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load subject: %w", err)
		}
		snap.subject = subj

		loc, err := s.backend.Locations.Get(ctx, id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load subject location: %w", err)
		}
		snap.location = loc
	}
	return snap, nil
}

func (s *Synchronizer) send(ctx context.Context, msg any) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Synchronizer) publish() {
	st := State{
		Order:      s.order.Clone(),
		Messages:   s.chat.Messages(),
		Connection: s.connection,
		UpdatedAt:  s.cfg.Now(),
	}
	if s.subject != nil {
		subj := *s.subject
		st.Subject = &subj
	}
	if s.location != nil {
		loc := *s.location
		st.Location = &loc
	}
	if s.order != nil {
		st.Terminal = s.order.Status.IsTerminal()
		st.DistanceKm = Distance(s.order, s.location)
		st.ETAMinutes = geo.ETAMinutes(st.DistanceKm, s.cfg.AvgSpeedKmh)
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.dirty = false

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st.clone():
	default:
	}
}

// Distance is how far the delivery still has to travel in kilometres: from
// the subject to the pickup before pickup, from the subject to the dropoff
// after it, and from pickup to dropoff while no position is known.
func Distance(o *models.DeliveryOrder, loc *models.SubjectLocation) float64 {
	if loc == nil {
		return geo.Distance(o.Pickup.Location, o.Dropoff.Location)
	}
	if o.Status.Reached(models.OrderStatusPickedUp) {
		return geo.Distance(loc.Location, o.Dropoff.Location)
	}
	return geo.Distance(loc.Location, o.Pickup.Location)
}

func (s *Synchronizer) archive() {
	if s.cfg.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	rec := archive.Record{
		Order:     *s.order.Clone(),
		Locations: append([]models.SubjectLocation(nil), s.trail...),
		Messages:  s.chat.Messages(),
	}
	if err := s.cfg.Archiver.Archive(ctx, rec); err != nil {
		s.logger.Error("failed to archive order", "error", err)
	}
}
