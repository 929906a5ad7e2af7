// Package gateway runs channel adapters against the dispatch engine and
// exposes health, status and metrics over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
	"botmux/pkg/config"
	"botmux/pkg/engine"
	"botmux/pkg/metrics"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790
	eventBuffer       = 256
	drainPollInterval = 10 * time.Millisecond
)

var errQueueClosed = errors.New("dispatch queue is closed")

// Service owns the adapters of one gateway process.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	engine     *engine.Engine
	queue      *bus.MessageBus
	metrics    *metrics.Metrics
	dispatcher *dispatcher
	channels   []channel.Adapter
	bots       map[string]*engine.Bot
	serve      bool

	events      <-chan bus.Event
	unsubscribe func()

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	BotID   string `json:"bot_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type botStatus struct {
	ID         string             `json:"id"`
	Adapter    string             `json:"adapter"`
	Active     bool               `json:"active"`
	Capability capability.Summary `json:"capability"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	QueueDepth    int                     `json:"queue_depth"`
	Channels      map[string]channelState `json:"channels"`
	Bots          []botStatus             `json:"bots,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithBus shares mb with the engine so the service can consume its events.
// The same bus carries the inbound dispatch queue.
func WithBus(mb *bus.MessageBus) Option {
	return func(s *Service) {
		if mb != nil {
			s.queue = mb
		}
	}
}

// WithMetrics feeds dispatch events into m and serves it on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithoutStatusServer disables the HTTP status server.
func WithoutStatusServer() Option {
	return func(s *Service) {
		s.serve = false
	}
}

// NewService registers every adapter as a bot on eng. Event subscriptions
// live until ctx ends.
func NewService(ctx context.Context, cfg *config.Config, eng *engine.Engine, adapters []channel.Adapter, log *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		engine:        eng,
		channels:      adapters,
		bots:          make(map[string]*engine.Bot, len(adapters)),
		serve:         true,
		channelStates: make(map[string]channelState, len(adapters)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = bus.NewMessageBusWithBuffer(cfg.Gateway.QueueSize)
	}
	s.events, s.unsubscribe = s.queue.SubscribeEvents(ctx, eventBuffer)
	s.dispatcher = newDispatcher(eng, s.queue, s.metrics, log)

	for _, adapter := range adapters {
		name := adapter.Name()
		if _, dup := s.bots[name]; dup {
			s.unsubscribe()
			return nil, fmt.Errorf("duplicate channel adapter %q", name)
		}

		bot, err := eng.AddBot(adapter)
		if err != nil {
			s.unsubscribe()
			return nil, fmt.Errorf("register %s channel: %w", name, err)
		}
		s.bots[name] = bot
		s.channelStates[name] = channelState{BotID: bot.ID()}
	}

	return s, nil
}

// Run starts the status server, the dispatch workers and every adapter.
//
// It returns nil when ctx ends. When every adapter has stopped on its own the
// queue is drained first and the adapter failures, if any, are returned.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.unsubscribe()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.metrics != nil {
		go s.metrics.Consume(ctx, s.events)
	}

	serverErrors := make(chan error, 1)
	if s.serve {
		go s.runStatusServer(ctx, serverErrors)
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		s.dispatcher.run(workerCtx, s.cfg.Gateway.Workers)
	}()
	defer func() {
		stopWorkers()
		<-workersDone
	}()

	type exit struct {
		name string
		err  error
	}
	exits := make(chan exit, len(s.channels))
	for _, adapter := range s.channels {
		name := adapter.Name()
		bot := s.bots[name]
		s.setChannelState(name, channelState{Running: true, BotID: bot.ID()})

		go func() {
			err := adapter.Run(ctx, s.dispatcher.receiver(bot.ID()))
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			exits <- exit{name: name, err: err}
		}()
	}

	var failures []error
	for remaining := len(s.channels); remaining > 0; {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serverErrors:
			return err
		case ex := <-exits:
			remaining--
			s.channelStopped(ex.name, ex.err)
			if ex.err != nil {
				failures = append(failures, fmt.Errorf("run %s channel: %w", ex.name, ex.err))
			}
		}
	}

	s.drain(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return errors.Join(failures...)
}

// channelStopped records an adapter exit. A failed adapter loses its bot.
func (s *Service) channelStopped(name string, err error) {
	bot := s.bots[name]
	s.setChannelState(name, channelState{Running: false, BotID: bot.ID(), Error: errorString(err)})

	if err == nil {
		s.log.Info("Channel stopped", "channel", name)
		return
	}

	s.log.Error("Channel failed", "channel", name, "error", err)
	if rmErr := s.engine.RemoveBot(bot); rmErr != nil {
		s.log.Warn("Failed to remove bot for failed channel", "channel", name, "error", rmErr)
	}
}

// drain waits until every accepted update has been dispatched.
func (s *Service) drain(ctx context.Context) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for !s.dispatcher.idle() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) addr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	return host + ":" + strconv.Itoa(port)
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	addr := s.addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}
	s.mu.RUnlock()

	bots := make([]botStatus, 0, len(s.channels))
	for _, adapter := range s.channels {
		bot := s.bots[adapter.Name()]
		bots = append(bots, botStatus{
			ID:         bot.ID(),
			Adapter:    adapter.Name(),
			Active:     bot.Active(),
			Capability: bot.Descriptor().Summary(),
		})
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		QueueDepth:    s.queue.Pending(),
		Channels:      channels,
		Bots:          bots,
	}
}

// isReady reports whether at least one channel is running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}
	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
