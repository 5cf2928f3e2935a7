package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/skypoolhq/skypool/auth"
	"github.com/skypoolhq/skypool/config"
	"github.com/skypoolhq/skypool/hosts/aws"
	"github.com/skypoolhq/skypool/metadata"
	"github.com/skypoolhq/skypool/metrics"
	"github.com/skypoolhq/skypool/pool"
	"github.com/skypoolhq/skypool/rdp"
	logger "github.com/skypoolhq/skypool/skylogger"
)

// Hourly prices for the pool's instance type, used only for the
// informational cost figures in the metrics snapshot.
const (
	spotHourlyCost     = 0.30
	onDemandHourlyCost = 0.45
)

func main() {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	goroutineTracker := &sync.WaitGroup{}

	if err := config.Initialize(); err != nil {
		logger.Panicf(globalCancel, "Failed to initialize configuration: %s", err)
	}

	// Skip fetching signing keys on local builds so the service can run
	// without network access to the issuer.
	if !metadata.IsLocalEnv() {
		if err := auth.Initialize(); err != nil {
			logger.Panicf(globalCancel, "Failed to initialize auth: %s", err)
		}
	}

	region := config.GetEnabledRegions()[0]

	handler := &aws.AWSHost{}
	if err := handler.Initialize(region); err != nil {
		logger.Panicf(globalCancel, "Error starting host on region %s: %s", region, err)
	}

	var sink pool.MetricsSink
	if !metadata.IsLocalEnv() {
		cwSink, err := metrics.NewCloudWatchSink(globalCtx, region)
		if err != nil {
			logger.Errorf("Failed to start CloudWatch sink, metrics will not be pushed: %s", err)
		} else {
			sink = cwSink
		}
	}

	policy := pool.DefaultScalingPolicy()
	policy.MinInstances = config.GetMinWarmInstances()
	policy.MaxInstances = config.GetMaxPoolSize()
	policy.ScaleUpIncrement = config.GetScaleIncrement()
	policy.ScaleUpCooldown = config.GetScaleUpCooldown()
	policy.ScaleDownCooldown = config.GetScaleDownCooldown()
	policy.WarmBufferTarget = config.GetMinWarmInstances()

	manager, err := pool.NewManager(pool.ManagerConfig{
		Region:             region,
		ImageID:            os.Getenv("POOL_IMAGE_ID"),
		Policy:             policy,
		Host:               handler,
		Dialer:             &rdp.TCPDialer{Timeout: 15 * time.Second},
		MaxConnections:     32,
		UseSpot:            os.Getenv("USE_SPOT_INSTANCES") == "true",
		SpotHourlyCost:     spotHourlyCost,
		OnDemandHourlyCost: onDemandHourlyCost,
		Sink:               sink,
	})
	if err != nil {
		logger.Panicf(globalCancel, "Failed to create pool manager: %s", err)
	}

	manager.CreateEventChans()

	// Rebuild pool state from the provider before serving anything. A fresh
	// deploy with no tagged instances reconciles to an empty pool.
	if err := manager.Reconcile(globalCtx); err != nil {
		logger.Errorf("Failed to reconcile pool state on startup: %s", err)
	}

	manager.ProcessEvents(globalCtx, goroutineTracker)
	StartSchedulerEvents(globalCtx, manager)
	StartHTTPServer(manager, manager.ScheduledEventChan)

	// Register a signal handler for Ctrl-C so that we cleanup if Ctrl-C is pressed.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Wait for either the global context to get cancelled by a worker goroutine,
	// or for us to receive an interrupt.
	select {
	case <-sigChan:
		logger.Infof("Got an interrupt or SIGTERM")
	case <-globalCtx.Done():
		logger.Infof("Global context cancelled!")
	}

	globalCancel()
	goroutineTracker.Wait()

	manager.Shutdown()
	logger.Close()
}

// StartSchedulerEvents schedules the pool's maintenance ticks. Each tick
// lands on the manager's event channel; the event loop does the work.
func StartSchedulerEvents(globalCtx context.Context, m *pool.Manager) {
	s := gocron.NewScheduler(time.UTC)

	// Scaling decision every minute
	s.Every(1).Minutes().Do(func() {
		m.ScheduledEventChan <- m.NewEvent(pool.ScheduledScaleCheckEvent)
	})

	// Warm buffer replenishment every minute
	s.Every(1).Minutes().Do(func() {
		m.ScheduledEventChan <- m.NewEvent(pool.ScheduledReplenishEvent)
	})

	// Idle connection eviction every 2 minutes
	s.Every(2).Minutes().Do(func() {
		m.ScheduledEventChan <- m.NewEvent(pool.ScheduledConnectionCleanupEvent)
	})

	// Metrics push every 5 minutes
	s.Every(5).Minutes().Do(func() {
		m.ScheduledEventChan <- m.NewEvent(pool.ScheduledMetricsPublishEvent)
	})

	// Session expiry sweep every 15 minutes
	s.Every(15).Minutes().Do(func() {
		m.ScheduledEventChan <- m.NewEvent(pool.ScheduledSessionExpiryEvent)
	})

	s.StartAsync()

	// Stop the scheduler when the service shuts down.
	go func() {
		<-globalCtx.Done()
		s.Stop()
	}()
}

// newEventID returns a unique identifier for an HTTP-originated event.
func newEventID() string {
	return uuid.NewString()
}
