package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMachineSim/internal/address"
	"github.com/KevinKickass/OpenMachineSim/internal/addrspace"
	"github.com/KevinKickass/OpenMachineSim/internal/api/rest"
	"github.com/KevinKickass/OpenMachineSim/internal/api/websocket"
	"github.com/KevinKickass/OpenMachineSim/internal/auth"
	"github.com/KevinKickass/OpenMachineSim/internal/config"
	"github.com/KevinKickass/OpenMachineSim/internal/interfaces"
	"github.com/KevinKickass/OpenMachineSim/internal/metrics"
	"github.com/KevinKickass/OpenMachineSim/internal/opcua"
	"github.com/KevinKickass/OpenMachineSim/internal/points"
	"github.com/KevinKickass/OpenMachineSim/internal/registry"
	"github.com/KevinKickass/OpenMachineSim/internal/scheduler"
	"github.com/KevinKickass/OpenMachineSim/internal/types"
	"go.uber.org/zap"
)

// ErrConfiguration marks startup failures caused by the configuration or
// the point list rather than by the environment.
var ErrConfiguration = errors.New("configuration rejected")

// endpoint is the OPC UA server surface the lifecycle drives.
type endpoint interface {
	Start(ctx context.Context) error
	LinkRoot() error
	NamespaceIndex() uint16
	Endpoints() []string
	Close() error
}

type LifecycleManager struct {
	config   *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	metrics  *metrics.Registry

	space       *addrspace.Space
	namespace   *opcua.Namespace
	opcServer   endpoint
	opcStarted  bool
	scheduler   *scheduler.Scheduler
	authService *auth.Service
	wsHub       *websocket.Hub
	hubCancel   context.CancelFunc
	restServer  *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	m := metrics.NewRegistry()
	m.SetState(int(StateInitializing))

	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		registry:     registry.New(registry.WithStrictWrites(cfg.Simulation.StrictWrites)),
		metrics:      m,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
}

// Start loads the point list, builds and applies the address space, then
// brings up the OPC UA endpoint, the update timers and the HTTP surface in
// that order. Configuration problems are reported wrapped in
// ErrConfiguration. On failure everything already started is stopped.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenMachineSim",
		zap.String("namespace", lm.config.Namespace.URI),
		zap.String("namespace_name", lm.config.Namespace.Name),
		zap.String("points", lm.config.Points.Path))

	if err := lm.start(ctx); err != nil {
		lm.setError(err)
		if stopErr := lm.stopComponents(ctx); stopErr != nil {
			lm.logger.Warn("Cleanup after failed start incomplete", zap.Error(stopErr))
		}
		return err
	}

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)

	if lm.config.Logging.EnableStartupInfo {
		lm.logger.Info("System started successfully",
			zap.String("endpoint", lm.config.Server.EndpointURL()),
			zap.Int("max_sessions", lm.config.Server.MaxSessions),
			zap.Int("max_connections", lm.config.Server.MaxConnections),
			zap.Uint16("namespace_index", lm.opcServer.NamespaceIndex()),
			zap.Int("points", len(lm.space.Bindings)),
			zap.Int("timers", len(lm.space.DynamicBindings())),
			zap.Int("dropped", len(lm.space.Dropped)),
			zap.Bool("http_enabled", lm.config.HTTP.Enabled),
			zap.Bool("auth_enabled", lm.config.Auth.Enabled))
	}
	return nil
}

func (lm *LifecycleManager) start(ctx context.Context) error {
	defs, err := lm.loadPoints()
	if err != nil {
		return err
	}

	if lm.config.HTTP.Enabled {
		lm.createHub()
	}

	lm.namespace = opcua.NewNamespace(lm.config.Namespace.URI, lm.logger,
		opcua.WithWriteObserver(lm.metrics))
	srv, err := opcua.NewServer(lm.config.Server, lm.namespace, lm.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	lm.opcServer = srv

	if err := lm.buildAddressSpace(defs); err != nil {
		return err
	}

	publishers := []scheduler.Publisher{lm.namespace}
	if lm.wsHub != nil {
		publishers = append(publishers, lm.wsHub)
	}
	lm.scheduler = scheduler.New(lm.registry, lm.logger,
		scheduler.WithPublishers(publishers...),
		scheduler.WithObserver(lm.metrics))
	for _, b := range lm.space.DynamicBindings() {
		if err := lm.scheduler.Add(b.Point.Name, b.Address, b.Interval, b.Generator); err != nil {
			return fmt.Errorf("failed to create update timer for %s: %w", b.Point.Name, err)
		}
		if lm.config.Logging.EnableTimerInfo {
			lm.logger.Info("Update timer created",
				zap.String("point", b.Point.Name),
				zap.String("node_id", b.Address.String()),
				zap.String("dynamic_type", string(b.Point.DynamicType)),
				zap.Duration("interval", b.Interval))
		}
	}

	if err := lm.opcServer.Start(ctx); err != nil {
		return err
	}
	lm.opcStarted = true
	if lm.config.Logging.EnableEndpointInfo {
		for _, url := range lm.opcServer.Endpoints() {
			lm.logger.Info("OPC UA endpoint available", zap.String("url", url))
		}
	}

	if err := lm.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start update scheduler: %w", err)
	}

	if lm.config.HTTP.Enabled {
		if err := lm.startRESTServer(); err != nil {
			return fmt.Errorf("failed to start REST API: %w", err)
		}
	}
	return nil
}

func (lm *LifecycleManager) loadPoints() ([]types.PointDefinition, error) {
	loader, err := points.NewLoader()
	if err != nil {
		return nil, err
	}
	defs, err := loader.Load(lm.config.Points.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	lm.logger.Info("Point list loaded",
		zap.String("path", lm.config.Points.Path),
		zap.Int("count", len(defs)))
	return defs, nil
}

// buildAddressSpace validates the topology against the point list, seeds
// the registry and materializes every node before the endpoint opens.
func (lm *LifecycleManager) buildAddressSpace(defs []types.PointDefinition) error {
	builder := addrspace.NewBuilder(lm.registry, lm.logger,
		addrspace.WithDefaultInterval(lm.config.Simulation.DefaultInterval))

	space, err := builder.Build(lm.config.NodeStructure, defs, lm.opcServer.NamespaceIndex())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	lm.space = space

	for _, d := range space.Dropped {
		lm.logger.Warn("Point dropped",
			zap.String("point", d.Point),
			zap.String("device", d.Device),
			zap.String("reason", d.Reason))
	}

	if err := lm.registry.Seed(space.Seeds()); err != nil {
		return fmt.Errorf("failed to seed point registry: %w", err)
	}
	if err := space.Apply(lm.namespace); err != nil {
		return fmt.Errorf("failed to apply address space: %w", err)
	}
	if err := lm.opcServer.LinkRoot(); err != nil {
		return fmt.Errorf("failed to link custom root: %w", err)
	}

	dynamic := len(space.DynamicBindings())
	lm.metrics.SetPoints(dynamic, len(space.Bindings)-dynamic, len(space.Dropped))

	if lm.config.Logging.EnableNodeInfo {
		for _, d := range space.Devices {
			lm.logger.Info("Device node added",
				zap.String("device", d.BrowseName),
				zap.String("node_id", d.Address.String()))
		}
		for _, v := range space.Variables {
			lm.logger.Info("Point node added",
				zap.String("point", v.Accessor.Point()),
				zap.String("node_id", v.Address.String()),
				zap.String("type", string(v.DataType)),
				zap.String("access", string(v.Access)))
		}
	}
	return nil
}

func (lm *LifecycleManager) createHub() {
	var validator websocket.TokenValidator
	if lm.config.Auth.Enabled {
		lm.authService = auth.NewService(lm.config.Auth, lm.logger)
		validator = lm.authService
	}

	lm.wsHub = websocket.NewHub(lm.logger, validator)
	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(hubCtx)
}

func (lm *LifecycleManager) startRESTServer() error {
	opts := []rest.Option{
		rest.WithHub(lm.wsHub),
		rest.WithMetrics(lm.metrics.Handler()),
		rest.WithWriteObserver(lm.metrics),
		rest.WithAddresses(lm.addresses()),
		rest.WithPublishers(lm.namespace),
	}
	if lm.authService != nil {
		opts = append(opts, rest.WithAuth(lm.authService))
	}

	lm.restServer = rest.NewServer(lm.config.HTTP, lm, lm.registry, lm.logger, opts...)
	if err := lm.restServer.Start(); err != nil {
		lm.restServer = nil
		return err
	}
	return nil
}

func (lm *LifecycleManager) addresses() map[string]address.Native {
	out := make(map[string]address.Native, len(lm.space.Bindings))
	for _, b := range lm.space.Bindings {
		out[b.Point.Name] = b.Address
	}
	return out
}

// Shutdown stops the HTTP surface, then every update timer, then the OPC
// UA endpoint. It is safe to call more than once.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.stopComponents(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) stopComponents(ctx context.Context) error {
	var errs []error

	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}

	// The endpoint is closed only once every update timer has finished.
	if lm.scheduler != nil {
		done := make(chan struct{})
		go func() {
			lm.scheduler.Stop()
			close(done)
		}()
		select {
		case <-done:
			lm.logger.Info("Update timers stopped")
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("update scheduler stop: %w", ctx.Err()))
			if lm.opcStarted {
				lm.opcStarted = false
				srv := lm.opcServer
				lm.logger.Warn("Update timers still running, OPC UA endpoint closes once they finish")
				go func() {
					<-done
					if err := srv.Close(); err != nil {
						lm.logger.Error("OPC UA endpoint close failed", zap.Error(err))
					}
				}()
			}
		}
	}

	if lm.opcStarted {
		lm.opcStarted = false
		if err := lm.opcServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("opc ua endpoint close failed: %w", err))
		}
	}

	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	previous := lm.currentState
	if err := ValidateTransition(previous, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.metrics.SetState(int(state))
	lm.logger.Debug("System state changed",
		zap.String("from", previous.String()),
		zap.String("to", state.String()))

	if lm.wsHub != nil {
		lm.wsHub.Broadcast(websocket.NewSystemStatusMessage(state.String(), previous.String()))
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System entered error state", zap.Error(err))
	lm.setState(StateError)
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	status := interfaces.SystemStatus{
		State:         lm.currentState.String(),
		Namespace:     lm.config.Namespace.URI,
		NamespaceName: lm.config.Namespace.Name,
		Endpoint:      lm.config.Server.EndpointURL(),
	}
	if !lm.startedAt.IsZero() {
		status.StartedAt = lm.startedAt.Unix()
	}
	lm.stateMu.RUnlock()

	if lm.opcServer != nil {
		status.NamespaceIndex = lm.opcServer.NamespaceIndex()
		status.Endpoints = lm.opcServer.Endpoints()
	}
	if lm.space != nil {
		status.PointCount = len(lm.space.Bindings)
		status.DynamicPoints = len(lm.space.DynamicBindings())
		status.DroppedPoints = len(lm.space.Dropped)
	}
	if lm.wsHub != nil {
		status.ConnectedClients = lm.wsHub.GetClientCount()
	}
	return status
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Registry returns the point registry
func (lm *LifecycleManager) Registry() *registry.Registry {
	return lm.registry
}

// Metrics returns the metrics registry
func (lm *LifecycleManager) Metrics() *metrics.Registry {
	return lm.metrics
}
