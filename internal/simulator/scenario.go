// Package simulator drives a complete delivery against an in-process backend:
// a courier device moving along a route, the order lifecycle, a chat thread
// and a network outage, all on a compressed clock.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Kwendataxi/kwenda-sub020/internal/archive"
	"github.com/Kwendataxi/kwenda-sub020/internal/chat"
	"github.com/Kwendataxi/kwenda-sub020/internal/delivery"
	"github.com/Kwendataxi/kwenda-sub020/internal/factories"
	"github.com/Kwendataxi/kwenda-sub020/internal/geo"
	"github.com/Kwendataxi/kwenda-sub020/internal/geocode"
	"github.com/Kwendataxi/kwenda-sub020/internal/models"
	"github.com/Kwendataxi/kwenda-sub020/internal/repositories/memory"
	"github.com/Kwendataxi/kwenda-sub020/internal/tracking"
)

const (
	DefaultTick     = 20 * time.Millisecond
	defaultSpeedKmh = 25
	loadingTime     = time.Minute
)

type Options struct {
	// Store defaults to a fresh in-memory backend.
	Store *memory.Store
	// Mirror receives a copy of every courier fix, e.g. a Kafka transmitter.
	Mirror   tracking.Transmitter
	Resolver *geocode.Resolver
	Archiver archive.Archiver
	// Progress, when set, receives a progress bar of the courier's route.
	Progress io.Writer
	// Outage is how long, in simulated time, the backend is unreachable
	// while the courier is on the road. Zero disables it.
	Outage time.Duration
	// CancelAfter cancels the order at that simulated offset. Zero disables it.
	CancelAfter time.Duration
	Tick        time.Duration
	Logger      *slog.Logger
}

type Result struct {
	Order     *models.DeliveryOrder
	State     delivery.State
	Sync      delivery.Stats
	Courier   tracking.Stats
	Pickup    models.GeocodeResult
	Dropoff   models.GeocodeResult
	RouteKm   float64
	Simulated time.Duration
	Wall      time.Duration
}

type leg int

const (
	legIdle leg = iota
	legToPickup
	legLoading
	legToDropoff
	legDelivering
	legDone
)

type chatLine struct {
	role models.Role
	text string
}

// Scenario is single use: build one per run.
type Scenario struct {
	cfg     *models.Config
	opts    Options
	speedup float64
	logger  *slog.Logger

	store     *memory.Store
	orders    *delivery.OrderService
	sync      *delivery.Synchronizer
	coord     *tracking.Coordinator
	session   *tracking.Session
	sampler   *RouteSampler
	courierCh *chat.Relay
	queue     *models.EventQueue

	order     *models.DeliveryOrder
	recipient *models.Subject
	courier   *models.Subject
	leg       leg
	start     time.Time
}

func NewScenario(cfg *models.Config, opts Options) *Scenario {
	if opts.Store == nil {
		opts.Store = memory.NewStore()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		zones, err := geocode.NewZoneIndex(geocode.KinshasaDistricts)
		if err != nil {
			opts.Logger.Warn("district index unavailable", "error", err)
		}
		opts.Resolver = geocode.NewResolver(nil, zones, geocode.Config{Logger: opts.Logger})
	}
	speedup := cfg.Simulation.Speedup
	if speedup < 1 {
		speedup = 1
	}
	return &Scenario{
		cfg:     cfg,
		opts:    opts,
		speedup: speedup,
		logger:  opts.Logger.With("component", "simulator"),
		store:   opts.Store,
		queue:   models.NewEventQueue(),
	}
}

// scale compresses a simulated duration into wall time.
func (s *Scenario) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.speedup)
}

func (s *Scenario) at(offset time.Duration) time.Time {
	return s.start.Add(s.scale(offset))
}

// Run plays the scenario until the order reaches a terminal status or ctx
// ends.
func (s *Scenario) Run(ctx context.Context) (*Result, error) {
	s.start = time.Now()
	backend := s.store.Backend()
	city := factories.CityFromConfig(s.cfg.Simulation)
	seed := s.cfg.Simulation.Seed

	subjects := factories.NewSubjectFactory(city, seed)
	s.recipient = subjects.CreateSubject(models.RoleRecipient)
	s.courier = subjects.CreateSubject(models.RoleCourier)
	for _, subj := range []*models.Subject{s.recipient, s.courier} {
		if err := backend.Subjects.Create(ctx, subj); err != nil {
			return nil, fmt.Errorf("create subject: %w", err)
		}
	}

	s.order = factories.NewOrderFactory(city, seed+2).CreateOrder(s.recipient.ID)
	res := &Result{
		Pickup:  s.opts.Resolver.Resolve(ctx, s.order.Pickup.Location.Lat, s.order.Pickup.Location.Lon),
		Dropoff: s.opts.Resolver.Resolve(ctx, s.order.Dropoff.Location.Lat, s.order.Dropoff.Location.Lon),
	}
	if res.Pickup.Source != models.SourceFallback {
		s.order.Pickup.Address = res.Pickup.Address
	}
	if res.Dropoff.Source != models.SourceFallback {
		s.order.Dropoff.Address = res.Dropoff.Address
	}

	s.orders = delivery.NewOrderService(backend.Orders, nil)
	if err := s.orders.Create(ctx, s.order); err != nil {
		return nil, err
	}
	s.logger.Info("order created", "order_id", s.order.ID, "price_estimate", s.order.PriceEstimate)

	origin := subjects.StartingPoint()
	res.RouteKm = geo.Distance(origin, s.order.Pickup.Location) + geo.Distance(s.order.Pickup.Location, s.order.Dropoff.Location)
	s.sampler = NewRouteSampler(origin, RouteConfig{
		SpeedKmh: defaultSpeedKmh,
		Speedup:  s.speedup,
		Battery:  0.9,
		Drain:    0.0005,
		Seed:     seed,
	})

	s.sync = delivery.New(s.order.ID, backend, s.syncConfig())
	if err := s.sync.Start(ctx); err != nil {
		return nil, err
	}
	defer s.sync.Stop()

	var tx tracking.Transmitter = tracking.NewBackendTransmitter(backend.Locations)
	if s.opts.Mirror != nil {
		tx = &tracking.TeeTransmitter{Primary: tx, Mirror: s.opts.Mirror, Logger: s.opts.Logger}
	}
	s.coord = tracking.NewCoordinator(s.trackingConfig(), func(string, models.Role) (tracking.Sampler, error) {
		return s.sampler, nil
	}, tx)
	defer s.coord.StopAll()

	s.courierCh = chat.NewRelay(s.order.ID, backend.Chats, chat.Config{Logger: s.opts.Logger})
	s.script()

	var bar *progressbar.ProgressBar
	if s.opts.Progress != nil {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(s.opts.Progress),
			progressbar.OptionSetDescription("delivering "+s.order.ID),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for s.leg != legDone {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("simulation of order %s: %w", s.order.ID, ctx.Err())
		case <-s.sync.Done():
			s.leg = legDone
			continue
		case <-ticker.C:
		}

		now := time.Now()
		s.checkArrival(now)
		for _, ev := range s.queue.DequeueDue(now) {
			if err := s.apply(ctx, ev); err != nil {
				if !errors.Is(err, models.ErrNetworkUnavailable) {
					return nil, fmt.Errorf("%s: %w", ev.Type, err)
				}
				s.logger.Debug("backend unreachable, retrying", "event", ev.Type)
				ev.Time = now.Add(s.opts.Tick)
				s.queue.Enqueue(ev)
			}
		}
		if bar != nil && res.RouteKm > 0 {
			_ = bar.Set(int(min(100, 100*s.sampler.Travelled()/res.RouteKm)))
		}
	}

	select {
	case <-s.sync.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("simulation of order %s: %w", s.order.ID, ctx.Err())
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if s.session != nil {
		res.Courier = s.session.Stats()
	}
	res.State = s.sync.Snapshot()
	res.Order = res.State.Order
	res.Sync = s.sync.Stats()
	res.Wall = time.Since(s.start)
	res.Simulated = time.Duration(float64(res.Wall) * s.speedup)
	s.logger.Info("simulation finished", "order_id", s.order.ID, "status", res.Order.Status,
		"updates", res.Courier.Updates, "messages", len(res.State.Messages), "simulated", res.Simulated)
	return res, nil
}

// script queues the timed part of the delivery. Pickup and dropoff follow the
// courier's arrival instead of the clock.
func (s *Scenario) script() {
	s.enqueue(10*time.Second, models.EventConfirmOrder, nil)
	s.enqueue(30*time.Second, models.EventAssignSubject, nil)
	s.enqueue(45*time.Second, models.EventSendChat, chatLine{models.RoleCourier, "Mbote! I am on my way to the pickup."})
	s.enqueue(60*time.Second, models.EventSendChat, chatLine{models.RoleRecipient, "Thanks, I will wait at the gate."})
	s.enqueue(70*time.Second, models.EventReplayLastMessage, nil)
	if s.opts.Outage > 0 {
		s.enqueue(90*time.Second, models.EventNetworkDown, nil)
		s.enqueue(90*time.Second+s.opts.Outage, models.EventNetworkUp, nil)
	}
	if s.opts.CancelAfter > 0 {
		s.enqueue(s.opts.CancelAfter, models.EventCancelOrder, nil)
	}
}

func (s *Scenario) enqueue(offset time.Duration, typ string, data any) {
	s.queue.Enqueue(&models.Event{Time: s.at(offset), Type: typ, Data: data})
}

func (s *Scenario) checkArrival(now time.Time) {
	switch s.leg {
	case legToPickup:
		if s.sampler.Arrived() {
			s.leg = legLoading
			s.queue.Enqueue(&models.Event{Time: now, Type: models.EventPickUpOrder})
			s.queue.Enqueue(&models.Event{Time: now.Add(s.scale(loadingTime)), Type: models.EventOrderInTransit})
		}
	case legToDropoff:
		if s.sampler.Arrived() {
			s.leg = legDelivering
			s.queue.Enqueue(&models.Event{Time: now, Type: models.EventDeliverOrder})
		}
	}
}

func (s *Scenario) apply(ctx context.Context, ev *models.Event) error {
	s.logger.Info("event", "type", ev.Type, "order_id", s.order.ID)

	switch ev.Type {
	case models.EventConfirmOrder:
		_, err := s.orders.Transition(ctx, s.order.ID, models.OrderStatusConfirmed)
		return err

	case models.EventAssignSubject:
		if _, err := s.orders.Assign(ctx, s.order.ID, s.courier.ID); err != nil {
			return err
		}
		session, err := s.coord.Start(ctx, s.courier.ID, models.RoleCourier)
		if err != nil {
			return fmt.Errorf("track courier: %w", err)
		}
		s.session = session
		s.sampler.SetRoute(s.order.Pickup.Location)
		s.leg = legToPickup
		return nil

	case models.EventPickUpOrder:
		_, err := s.orders.Transition(ctx, s.order.ID, models.OrderStatusPickedUp)
		return err

	case models.EventOrderInTransit:
		if _, err := s.orders.Transition(ctx, s.order.ID, models.OrderStatusInTransit); err != nil {
			return err
		}
		s.sampler.SetRoute(s.order.Dropoff.Location)
		s.leg = legToDropoff
		return nil

	case models.EventDeliverOrder:
		if _, err := s.orders.Transition(ctx, s.order.ID, models.OrderStatusDelivered); err != nil {
			return err
		}
		s.coord.Stop(s.courier.ID)
		s.leg = legDone
		return nil

	case models.EventCancelOrder:
		if _, err := s.orders.Transition(ctx, s.order.ID, models.OrderStatusCancelled); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) {
				s.logger.Warn("order can no longer be cancelled", "error", err)
				return nil
			}
			return err
		}
		s.coord.Stop(s.courier.ID)
		s.leg = legDone
		return nil

	case models.EventSendChat:
		line, ok := ev.Data.(chatLine)
		if !ok {
			return fmt.Errorf("unexpected chat payload %T", ev.Data)
		}
		relay, sender := s.sync.Chat(), s.recipient
		if line.role != models.RoleRecipient {
			relay, sender = s.courierCh, s.courier
		}
		_, err := relay.Send(chat.WithSender(ctx, sender.ID, line.role), line.text)
		return err

	case models.EventNetworkDown:
		s.store.SetOffline(true)
		return nil

	case models.EventNetworkUp:
		s.store.SetOffline(false)
		return nil

	case models.EventReplayLastMessage:
		// Redeliver the newest message the way an at-least-once feed would.
		msgs := s.sync.Snapshot().Messages
		if len(msgs) == 0 {
			return nil
		}
		last := msgs[len(msgs)-1]
		payload, err := json.Marshal(last)
		if err != nil {
			return err
		}
		s.store.Feed().Publish(models.ChangeEvent{
			Table:   models.TableChatMessages,
			Op:      models.ChangeInsert,
			RowID:   last.ID,
			Keys:    map[string]string{"order_id": last.OrderID},
			Payload: payload,
			At:      time.Now(),
		})
		return nil
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// trackingConfig compresses every timing knob by the speedup factor so the
// device behaves as it would in real time.
func (s *Scenario) trackingConfig() tracking.Config {
	settings := tracking.SettingsFromConfig(s.cfg.Tracking)
	settings.MinInterval = s.scale(settings.MinInterval)
	settings.MaxInterval = s.scale(settings.MaxInterval)
	settings.HeartbeatInterval = s.scale(settings.HeartbeatInterval)
	settings.InitialBackoff = s.scale(settings.InitialBackoff)
	settings.MaxBackoff = s.scale(settings.MaxBackoff)

	overrides := make(map[string]models.ProfileConfig, len(tracking.Profiles))
	for role := range tracking.Profiles {
		p, err := tracking.ProfileFor(role, s.cfg.Tracking.Profiles)
		if err != nil {
			continue
		}
		o := s.cfg.Tracking.Profiles[string(role)]
		o.Interval = s.scale(p.Interval)
		o.MaxStale = s.scale(p.MaxStale)
		overrides[string(role)] = o
	}
	return tracking.Config{Settings: settings, Overrides: overrides, Logger: s.opts.Logger}
}

func (s *Scenario) syncConfig() delivery.Config {
	cfg := delivery.ConfigFrom(s.cfg)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = delivery.DefaultPollInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = models.LocationStaleAfter
	}
	cfg.PollInterval = s.scale(cfg.PollInterval)
	cfg.StaleAfter = s.scale(cfg.StaleAfter)
	cfg.RetryInitial = s.scale(500 * time.Millisecond)
	cfg.RetryMax = s.scale(max(cfg.RetryMax, 30*time.Second))
	cfg.Archiver = s.opts.Archiver
	cfg.Logger = s.opts.Logger
	return cfg
}
