package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skypoolhq/skypool/config"
	logger "github.com/skypoolhq/skypool/skylogger"
)

// ScalingEvent contains all the relevant information to run one pool
// maintenance action.
type ScalingEvent struct {
	ID     string
	Type   interface{} // The type of event (scheduled, on-demand, etc.)
	Data   interface{} // Data relevant to the event
	Region string      // Region where the action will be performed
}

// Event types consumed by the Manager's event loop.
const (
	// ScheduledScaleCheckEvent runs the scaling decision.
	ScheduledScaleCheckEvent = "SCHEDULED_SCALE_CHECK_EVENT"
	// ScheduledReplenishEvent tops the warm buffer back up to target.
	ScheduledReplenishEvent = "SCHEDULED_REPLENISH_EVENT"
	// ScheduledSessionExpiryEvent releases sessions past their timeout.
	ScheduledSessionExpiryEvent = "SCHEDULED_SESSION_EXPIRY_EVENT"
	// ScheduledConnectionCleanupEvent evicts idle pooled connections.
	ScheduledConnectionCleanupEvent = "SCHEDULED_CONNECTION_CLEANUP_EVENT"
	// ScheduledMetricsPublishEvent pushes a snapshot to the metrics sink.
	ScheduledMetricsPublishEvent = "SCHEDULED_METRICS_PUBLISH_EVENT"
	// ScaleEvaluationRequestEvent is sent by RequestInstance when the warm
	// buffer runs dry.
	ScaleEvaluationRequestEvent = "SCALE_EVALUATION_REQUEST_EVENT"
)

// NewEvent returns an event of the given type for this Manager's region.
func (m *Manager) NewEvent(eventType string) ScalingEvent {
	return ScalingEvent{
		ID:     uuid.NewString(),
		Type:   eventType,
		Region: m.region,
	}
}

// CreateEventChans creates the event channels if they don't already exist.
func (m *Manager) CreateEventChans() {
	if m.ScheduledEventChan == nil {
		m.ScheduledEventChan = make(chan ScalingEvent, 100)
	}
}

// requestScalingEvaluation asks the event loop to rerun the scaling decision
// without waiting for the next scheduled tick. Dropped when the channel is
// full; the scheduled tick will catch up.
func (m *Manager) requestScalingEvaluation() {
	if m.ScheduledEventChan == nil {
		return
	}

	select {
	case m.ScheduledEventChan <- m.NewEvent(ScaleEvaluationRequestEvent):
	default:
	}
}

// ProcessEvents is the Manager's main loop. It receives scheduled and
// on-demand events and runs the matching maintenance action in its own
// goroutine, so one slow provider call cannot stall the other loops.
func (m *Manager) ProcessEvents(globalCtx context.Context, goroutineTracker *sync.WaitGroup) {
	m.CreateEventChans()

	goroutineTracker.Add(1)
	go func() {
		defer goroutineTracker.Done()

		for {
			select {
			case scheduledEvent := <-m.ScheduledEventChan:
				switch scheduledEvent.Type {
				case ScheduledScaleCheckEvent, ScaleEvaluationRequestEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithCancel(globalCtx)
						defer scalingCancel()

						if err := m.CheckScaling(scalingCtx, scheduledEvent); err != nil {
							logger.Errorf("Error running scaling check on region %s: %s", scheduledEvent.Region, err)
						}
					}()
				case ScheduledReplenishEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithCancel(globalCtx)
						defer scalingCancel()

						if err := m.ReplenishWarmBuffer(scalingCtx, scheduledEvent); err != nil {
							logger.Errorf("Error replenishing warm buffer on region %s: %s", scheduledEvent.Region, err)
						}
					}()
				case ScheduledSessionExpiryEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithCancel(globalCtx)
						defer scalingCancel()

						m.ExpireSessions(scalingCtx, scheduledEvent)
					}()
				case ScheduledConnectionCleanupEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						m.connections.CleanupIdleConnections(config.GetIdleConnectionThreshold())
					}()
				case ServerInstanceAssignEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithTimeout(globalCtx, assignTimeout)
						defer scalingCancel()

						m.handleAssignRequest(scalingCtx, scheduledEvent)
					}()
				case ServerInstanceReleaseEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithCancel(globalCtx)
						defer scalingCancel()

						m.handleReleaseRequest(scalingCtx, scheduledEvent)
					}()
				case ServerSessionActivityEvent:
					m.handleActivityRequest(scheduledEvent)
				case ScheduledMetricsPublishEvent:
					goroutineTracker.Add(1)
					go func() {
						defer goroutineTracker.Done()

						scalingCtx, scalingCancel := context.WithCancel(globalCtx)
						defer scalingCancel()

						m.PublishMetrics(scalingCtx)
					}()
				default:
					logger.Warningf("Received an unknown event type: %v", scheduledEvent.Type)
				}
			case <-globalCtx.Done():
				logger.Info("Global context has been cancelled. Exiting from pool manager event loop...")
				return
			}
		}
	}()
}

// ExpireSessions releases the instance of every session whose last activity
// is older than its timeout. Errors are logged so one bad release cannot
// stop the sweep.
func (m *Manager) ExpireSessions(ctx context.Context, event ScalingEvent) {
	expired := m.registry.ExpiredSessions(time.Now())

	for _, s := range expired {
		logger.Infof("Session %s for user %s expired, releasing instance %s", s.ID, s.UserID, s.InstanceID)

		if err := m.ReleaseInstance(ctx, s.InstanceID, true); err != nil {
			logger.Errorf("Error releasing instance %s for expired session %s: %s", s.InstanceID, s.ID, err)
		}
	}
}

// PublishMetrics pushes a snapshot to the configured sink, if any.
func (m *Manager) PublishMetrics(ctx context.Context) {
	if m.sink == nil {
		return
	}

	if err := m.sink.Publish(ctx, m.GetPoolMetrics()); err != nil {
		logger.Errorf("Error publishing pool metrics: %s", err)
	}
}
