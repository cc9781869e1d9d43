package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"

	"github.com/allisson/relay/internal/http"
	outboxHTTP "github.com/allisson/relay/internal/outbox/http"
	registrationHTTP "github.com/allisson/relay/internal/registration/http"
	registrationUsecase "github.com/allisson/relay/internal/registration/usecase"
	sagaRepository "github.com/allisson/relay/internal/saga/repository"
	sagaUsecase "github.com/allisson/relay/internal/saga/usecase"
	userstateHTTP "github.com/allisson/relay/internal/userstate/http"
	userstateRepository "github.com/allisson/relay/internal/userstate/repository"
	userstateUsecase "github.com/allisson/relay/internal/userstate/usecase"
)

// SagaRepository returns the registration saga repository for the configured database driver.
func (c *Container) SagaRepository() (sagaUsecase.SagaRepository, error) {
	var err error
	c.sagaRepoInit.Do(func() {
		c.sagaRepo, err = c.initSagaRepository()
		if err != nil {
			c.initErrors["sagaRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["sagaRepo"]; exists {
		return nil, storedErr
	}
	return c.sagaRepo, nil
}

// RegistrationOrchestrator returns the saga orchestrator driving the registration workflow.
func (c *Container) RegistrationOrchestrator() (sagaUsecase.UseCase, error) {
	var err error
	c.orchestratorInit.Do(func() {
		c.orchestrator, err = c.initRegistrationOrchestrator()
		if err != nil {
			c.initErrors["orchestrator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["orchestrator"]; exists {
		return nil, storedErr
	}
	return c.orchestrator, nil
}

// UserStateRepository returns the Redis-backed user state repository.
func (c *Container) UserStateRepository() (userstateUsecase.UserStateRepository, error) {
	var err error
	c.userStateRepoInit.Do(func() {
		c.userStateRepo, err = c.initUserStateRepository()
		if err != nil {
			c.initErrors["userStateRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["userStateRepo"]; exists {
		return nil, storedErr
	}
	return c.userStateRepo, nil
}

// UserStateUseCase returns the user state use case.
func (c *Container) UserStateUseCase() (userstateUsecase.UseCase, error) {
	var err error
	c.userStateUseCaseInit.Do(func() {
		c.userStateUseCase, err = c.initUserStateUseCase()
		if err != nil {
			c.initErrors["userStateUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["userStateUseCase"]; exists {
		return nil, storedErr
	}
	return c.userStateUseCase, nil
}

// RegistrationUseCase returns the registration use case.
func (c *Container) RegistrationUseCase() (registrationUsecase.UseCase, error) {
	var err error
	c.registrationUseCaseInit.Do(func() {
		c.registrationUseCase, err = c.initRegistrationUseCase()
		if err != nil {
			c.initErrors["registrationUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["registrationUseCase"]; exists {
		return nil, storedErr
	}
	return c.registrationUseCase, nil
}

// HTTPServer returns the API HTTP server with all routes registered.
func (c *Container) HTTPServer() (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer()
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics HTTP server.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	var err error
	c.metricsServerInit.Do(func() {
		c.metricsServer, err = c.initMetricsServer()
		if err != nil {
			c.initErrors["metricsServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// RegisterEventHandlers subscribes the orchestrator and the user state
// maintainer on the bus. It must be called before consuming starts.
func (c *Container) RegisterEventHandlers() error {
	bus, err := c.Bus()
	if err != nil {
		return fmt.Errorf("failed to get bus for event handlers: %w", err)
	}

	orchestrator, err := c.RegistrationOrchestrator()
	if err != nil {
		return fmt.Errorf("failed to get orchestrator for event handlers: %w", err)
	}
	if err := orchestrator.RegisterHandlers(bus); err != nil {
		return fmt.Errorf("failed to register orchestrator handlers: %w", err)
	}

	userState, err := c.UserStateUseCase()
	if err != nil {
		return fmt.Errorf("failed to get user state use case for event handlers: %w", err)
	}
	if err := userState.RegisterHandlers(bus); err != nil {
		return fmt.Errorf("failed to register user state handlers: %w", err)
	}

	return nil
}

// initSagaRepository selects the repository implementation by database driver.
func (c *Container) initSagaRepository() (sagaUsecase.SagaRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for saga repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return sagaRepository.NewMySQLSagaRepository(db), nil
	case "postgres":
		return sagaRepository.NewPostgreSQLSagaRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initRegistrationOrchestrator wires the orchestrator with the outbox as
// command channel and the bus as timeout scheduler.
func (c *Container) initRegistrationOrchestrator() (sagaUsecase.UseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for orchestrator: %w", err)
	}

	sagaRepo, err := c.SagaRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get saga repository for orchestrator: %w", err)
	}

	outbox, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for orchestrator: %w", err)
	}

	bus, err := c.Bus()
	if err != nil {
		return nil, fmt.Errorf("failed to get bus for orchestrator: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for orchestrator: %w", err)
	}

	return sagaUsecase.NewRegistrationOrchestrator(sagaUsecase.Config{
		Timeout: c.config.SagaTimeout,
	}, txManager, sagaRepo, outbox, bus, c.Logger(), businessMetrics), nil
}

// initUserStateRepository creates the Redis-backed user state repository.
func (c *Container) initUserStateRepository() (userstateUsecase.UserStateRepository, error) {
	client, err := c.RedisClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis client for user state repository: %w", err)
	}
	return userstateRepository.NewRedisUserStateRepository(client, c.config.UserStateKeyPrefix), nil
}

// initUserStateUseCase creates the user state use case.
func (c *Container) initUserStateUseCase() (userstateUsecase.UseCase, error) {
	repo, err := c.UserStateRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get user state repository for use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for user state use case: %w", err)
	}

	return userstateUsecase.NewUserStateUseCase(repo, c.Logger(), businessMetrics), nil
}

// initRegistrationUseCase creates the registration use case with the outbox as
// the only write path and the orchestrator as status reader.
func (c *Container) initRegistrationUseCase() (registrationUsecase.UseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for registration use case: %w", err)
	}

	outbox, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for registration use case: %w", err)
	}

	orchestrator, err := c.RegistrationOrchestrator()
	if err != nil {
		return nil, fmt.Errorf("failed to get orchestrator for registration use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for registration use case: %w", err)
	}

	return registrationUsecase.NewRegistrationUseCase(registrationUsecase.Config{
		OtpExpiry: c.config.OtpExpiry,
	}, txManager, outbox, orchestrator, c.Logger(), businessMetrics)
}

// initHTTPServer assembles the API server with handlers, operator guards and
// the per-request middleware chain.
func (c *Container) initHTTPServer() (*http.Server, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	registrationUseCase, err := c.RegistrationUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get registration use case for http server: %w", err)
	}

	outboxUseCase, err := c.OutboxUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox use case for http server: %w", err)
	}

	userStateUseCase, err := c.UserStateUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get user state use case for http server: %w", err)
	}

	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}
	var meterProvider metric.MeterProvider
	if metricsProvider != nil {
		meterProvider = metricsProvider.MeterProvider()
	}

	logger := c.Logger()
	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)

	cfg := http.RouterConfig{
		RegistrationHandler: registrationHTTP.NewRegistrationHandler(registrationUseCase, logger),
		OutboxHandler:       outboxHTTP.NewOutboxHandler(outboxUseCase, logger),
		OperatorMiddleware: []gin.HandlerFunc{
			userstateHTTP.IdentityMiddleware(userStateUseCase, logger),
			userstateHTTP.RequireRole("Admin", logger),
		},
		MeterProvider:    meterProvider,
		MetricsNamespace: c.config.MetricsNamespace,
		CORSEnabled:      c.config.CORSEnabled,
		CORSAllowOrigins: c.config.CORSAllowOrigins,
	}
	if c.config.RateLimitEnabled {
		cfg.RateLimitRPS = c.config.RateLimitRequestsPerSec
		cfg.RateLimitBurst = c.config.RateLimitBurst
	}
	server.SetupRouter(cfg)

	return server, nil
}

// initMetricsServer creates the metrics server exposing the Prometheus endpoint.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	metricsProvider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), metricsProvider), nil
}
