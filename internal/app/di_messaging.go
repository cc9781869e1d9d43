package app

import (
	"fmt"

	"github.com/allisson/relay/internal/eventbus"
	outboxRepository "github.com/allisson/relay/internal/outbox/repository"
	outboxUsecase "github.com/allisson/relay/internal/outbox/usecase"
)

// BusConnection returns the broker connection.
// The connection dials lazily and reconnects on failure.
func (c *Container) BusConnection() (*eventbus.Connection, error) {
	c.busConnectionInit.Do(func() {
		c.busConnection = eventbus.NewConnection(c.config.AMQPURL, c.Logger())
	})
	return c.busConnection, nil
}

// Bus returns the event bus bound to the service queue.
func (c *Container) Bus() (*eventbus.Bus, error) {
	var err error
	c.busInit.Do(func() {
		c.bus, err = c.initBus()
		if err != nil {
			c.initErrors["bus"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["bus"]; exists {
		return nil, storedErr
	}
	return c.bus, nil
}

// OutboxEventRepository returns the outbox event repository for the configured database driver.
func (c *Container) OutboxEventRepository() (outboxUsecase.OutboxEventRepository, error) {
	var err error
	c.outboxRepoInit.Do(func() {
		c.outboxRepo, err = c.initOutboxEventRepository()
		if err != nil {
			c.initErrors["outboxRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxRepo"]; exists {
		return nil, storedErr
	}
	return c.outboxRepo, nil
}

// OutboxUseCase returns the outbox use case handling the enqueue path and the
// dispatch loop.
func (c *Container) OutboxUseCase() (outboxUsecase.UseCase, error) {
	var err error
	c.outboxUseCaseInit.Do(func() {
		c.outboxUseCase, err = c.initOutboxUseCase()
		if err != nil {
			c.initErrors["outboxUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxUseCase"]; exists {
		return nil, storedErr
	}
	return c.outboxUseCase, nil
}

// initBus creates the event bus on top of the broker connection.
func (c *Container) initBus() (*eventbus.Bus, error) {
	conn, err := c.BusConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to get broker connection for bus: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for bus: %w", err)
	}

	return eventbus.NewBus(conn, eventbus.NewRegistry(), eventbus.Config{
		Exchange:          c.config.AMQPExchange,
		QueueName:         c.config.QueueName(),
		ServiceName:       c.config.ServiceName,
		PublishRetryCount: c.config.AMQPPublishRetryCount,
		PublishBackoff:    c.config.AMQPPublishBackoff,
	}, c.Logger(), businessMetrics), nil
}

// initOutboxEventRepository selects the repository implementation by database driver.
func (c *Container) initOutboxEventRepository() (outboxUsecase.OutboxEventRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for outbox repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return outboxRepository.NewMySQLOutboxEventRepository(db), nil
	case "postgres":
		return outboxRepository.NewPostgreSQLOutboxEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initOutboxUseCase creates the outbox use case with the bus as publisher.
func (c *Container) initOutboxUseCase() (outboxUsecase.UseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for outbox use case: %w", err)
	}

	outboxRepo, err := c.OutboxEventRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for outbox use case: %w", err)
	}

	bus, err := c.Bus()
	if err != nil {
		return nil, fmt.Errorf("failed to get bus for outbox use case: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for outbox use case: %w", err)
	}

	return outboxUsecase.NewOutboxUseCase(outboxUsecase.Config{
		Interval:      c.config.OutboxInterval,
		BatchSize:     c.config.OutboxBatchSize,
		MaxRetryCount: c.config.OutboxMaxRetryCount,
		RetryBackoff:  c.config.OutboxRetryBackoff,
	}, txManager, outboxRepo, bus, c.Logger(), businessMetrics), nil
}
