package services

import (
	"sync"
	"time"

	"airwatch/models"

	"go.uber.org/zap"
)

// Connectivity is the radio or network manager that actually joins the
// wireless network. BeginAssociation must not block.
type Connectivity interface {
	BeginAssociation(creds models.Credentials)
	CurrentStatus() models.AssociationStatus
	SignalStrength() int
	LocalAddress() string
}

// LinkPolicy bounds how the link manager retries association.
type LinkPolicy struct {
	AttemptTimeout time.Duration
	MaxRetries     int
	Cooldown       time.Duration
}

func DefaultLinkPolicy() LinkPolicy {
	return LinkPolicy{
		AttemptTimeout: 10 * time.Second,
		MaxRetries:     5,
		Cooldown:       time.Minute,
	}
}

// LinkManager drives wireless association through a bounded-retry state
// machine:
//
//	Disconnected -> Connecting                 attempt started, retries++
//	Connecting   -> Connected                  associated
//	Connecting   -> Disconnected               attempt timed out, retries < max
//	Connecting   -> Failed                     attempt timed out, retries >= max
//	Connected    -> Disconnected               association lost, retries reset
//	Failed       -> Disconnected               cooldown elapsed, retries reset
//
// Each Poll evaluates at most one transition.
type LinkManager struct {
	conn    Connectivity
	creds   models.Credentials
	policy  LinkPolicy
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.RWMutex
	status models.LinkStatus
}

func NewLinkManager(conn Connectivity, creds models.Credentials, policy LinkPolicy, logger *zap.Logger, now time.Time) *LinkManager {
	defaults := DefaultLinkPolicy()
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = defaults.AttemptTimeout
	}
	if policy.MaxRetries < 1 {
		policy.MaxRetries = defaults.MaxRetries
	}
	if policy.Cooldown <= 0 {
		policy.Cooldown = defaults.Cooldown
	}
	return &LinkManager{
		conn:   conn,
		creds:  creds,
		policy: policy,
		logger: logger,
		status: models.LinkStatus{State: models.LinkDisconnected, Since: now},
	}
}

// WithMetrics reports state transitions to m.
func (l *LinkManager) WithMetrics(m *Metrics) *LinkManager {
	l.metrics = m
	if m != nil {
		m.SetLinkState(l.status.State)
	}
	return l
}

// Poll advances the state machine by at most one transition.
func (l *LinkManager) Poll(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.status.State {
	case models.LinkDisconnected:
		l.status.Retries++
		l.logger.Info("Starting wireless association",
			zap.String("ssid", l.creds.SSID),
			zap.Int("attempt", l.status.Retries),
			zap.Int("max_retries", l.policy.MaxRetries))
		l.conn.BeginAssociation(l.creds)
		l.transition(models.LinkConnecting, now)

	case models.LinkConnecting:
		switch l.conn.CurrentStatus() {
		case models.AssociationAssociated:
			l.logger.Info("Wireless link connected",
				zap.String("ip", l.conn.LocalAddress()),
				zap.Int("rssi", l.conn.SignalStrength()),
				zap.Int("attempts", l.status.Retries))
			l.transition(models.LinkConnected, now)
		case models.AssociationFailed:
			// An outright rejection ends the attempt early.
			l.endAttempt(now, "association rejected")
		default:
			if now.Sub(l.status.Since) >= l.policy.AttemptTimeout {
				l.endAttempt(now, "association timed out")
			}
		}

	case models.LinkConnected:
		if l.conn.CurrentStatus() != models.AssociationAssociated {
			l.logger.Warn("Wireless link lost")
			l.status.Retries = 0
			l.transition(models.LinkDisconnected, now)
		}

	case models.LinkFailed:
		if now.Sub(l.status.Since) >= l.policy.Cooldown {
			l.logger.Info("Link cooldown elapsed, retrying association")
			l.status.Retries = 0
			l.transition(models.LinkDisconnected, now)
		}
	}
}

func (l *LinkManager) endAttempt(now time.Time, reason string) {
	if l.status.Retries < l.policy.MaxRetries {
		l.logger.Warn("Wireless association attempt failed",
			zap.String("reason", reason),
			zap.Int("attempt", l.status.Retries))
		l.transition(models.LinkDisconnected, now)
		return
	}
	l.logger.Error("Wireless association retries exhausted, cooling down",
		zap.String("reason", reason),
		zap.Int("attempts", l.status.Retries),
		zap.Duration("cooldown", l.policy.Cooldown))
	l.transition(models.LinkFailed, now)
}

func (l *LinkManager) transition(to models.LinkState, now time.Time) {
	from := l.status.State
	l.status.State = to
	l.status.Since = now
	l.logger.Debug("Link state transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("retries", l.status.Retries))
	if l.metrics != nil {
		l.metrics.SetLinkState(to)
	}
}

// Status returns a snapshot of the link state.
func (l *LinkManager) Status() models.LinkStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *LinkManager) IsConnected() bool {
	return l.Status().State == models.LinkConnected
}

// SignalStrength and LocalAddress pass through to the connectivity
// collaborator for telemetry metadata.
func (l *LinkManager) SignalStrength() int { return l.conn.SignalStrength() }

func (l *LinkManager) LocalAddress() string { return l.conn.LocalAddress() }
