package main

import (
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/procurement/commbus"
	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/delivery"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
	"github.com/jeeves-cluster-organization/procurement/coreengine/providers"
	"github.com/jeeves-cluster-organization/procurement/coreengine/runtime"
)

// queryTimeout bounds commbus queries such as GetEngineConfig.
const queryTimeout = 5 * time.Second

// GeneratorFactory builds the generation capability from settings.
type GeneratorFactory func(Settings, observability.Logger) (agents.Generator, error)

// OpenAIGenerator is the default GeneratorFactory.
func OpenAIGenerator(s Settings, logger observability.Logger) (agents.Generator, error) {
	return providers.NewHTTPGenerator(s.Provider, providers.WithLogger(logger))
}

// App is a wired engine with its bus.
type App struct {
	Settings Settings
	Logger   observability.Logger
	Bus      *commbus.InMemoryCommBus
	Engine   *runtime.Engine
	Breaker  *commbus.CircuitBreakerMiddleware
}

// NewApp loads the engine config and wires the engine, bus and deliverer.
func NewApp(s Settings, logger observability.Logger, newGenerator GeneratorFactory) (*App, error) {
	engineCfg := config.DefaultEngineConfig()
	if s.EngineConfig != "" {
		loaded, err := config.Load(s.EngineConfig)
		if err != nil {
			return nil, err
		}
		engineCfg = loaded
	}

	gen, err := newGenerator(s, logger.Bind("component", "provider"))
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	bus := commbus.NewInMemoryCommBus(queryTimeout, commbus.WithBusLogger(logger.Bind("component", "commbus")))
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger.Bind("component", "commbus")))

	// Only delivery commands can trip the breaker.
	breaker := commbus.NewCircuitBreakerMiddleware(
		s.Delivery.BreakerThreshold,
		s.Delivery.BreakerReset,
		[]string{
			commbus.TypeRunStarted,
			commbus.TypeTransitionRecorded,
			commbus.TypeRunCompleted,
			commbus.TypeDeliveryCompleted,
			commbus.TypeGetEngineConfig,
		},
		logger.Bind("component", "circuit_breaker"),
	)
	bus.AddMiddleware(breaker)

	opts := []runtime.Option{
		runtime.WithLogger(logger.Bind("component", "engine")),
		runtime.WithBus(bus),
	}
	deliverer, err := newDeliverer(s, bus, logger)
	if err != nil {
		return nil, err
	}
	if deliverer != nil {
		opts = append(opts, runtime.WithDeliverer(deliverer))
	}

	engine, err := runtime.NewEngine(engineCfg, gen, nil, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.RegisterHandlers(bus); err != nil {
		return nil, err
	}

	return &App{
		Settings: s,
		Logger:   logger,
		Bus:      bus,
		Engine:   engine,
		Breaker:  breaker,
	}, nil
}

// newDeliverer registers the configured mailer behind the bus so the
// circuit breaker sees every delivery. Mode "none" disables delivery.
func newDeliverer(s Settings, bus commbus.CommBus, logger observability.Logger) (delivery.Deliverer, error) {
	var mailer delivery.Mailer
	switch s.Delivery.Mode {
	case DeliveryNone:
		return nil, nil
	case DeliverySMTP:
		d, err := delivery.NewSMTPDeliverer(s.Delivery.SMTP, delivery.WithSMTPLogger(logger.Bind("component", "smtp")))
		if err != nil {
			return nil, err
		}
		mailer = d
	default:
		mailer = delivery.NewLogDeliverer(logger.Bind("component", "delivery"))
	}
	if err := delivery.RegisterDeliveryHandler(bus, mailer); err != nil {
		return nil, err
	}
	return delivery.NewBusDeliverer(bus), nil
}
