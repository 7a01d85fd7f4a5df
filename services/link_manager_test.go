package services

import (
	"testing"
	"time"

	"airwatch/models"

	"go.uber.org/zap/zaptest"
)

// fakeRadio is a scripted Connectivity.
type fakeRadio struct {
	status   models.AssociationStatus
	begins   int
	lastSSID string
	rssi     int
	addr     string
}

func (r *fakeRadio) BeginAssociation(creds models.Credentials) {
	r.begins++
	r.lastSSID = creds.SSID
}
func (r *fakeRadio) CurrentStatus() models.AssociationStatus { return r.status }
func (r *fakeRadio) SignalStrength() int                     { return r.rssi }
func (r *fakeRadio) LocalAddress() string                    { return r.addr }

var linkEpoch = time.Unix(1_700_000_000, 0)

func newTestLink(t *testing.T, radio *fakeRadio, policy LinkPolicy) *LinkManager {
	t.Helper()
	return NewLinkManager(radio, models.Credentials{SSID: "lab", Password: "secret"}, policy, zaptest.NewLogger(t), linkEpoch)
}

func TestLinkManager_ConnectsOnFirstAttempt(t *testing.T) {
	radio := &fakeRadio{}
	l := newTestLink(t, radio, DefaultLinkPolicy())

	l.Poll(linkEpoch)
	if got := l.Status(); got.State != models.LinkConnecting || got.Retries != 1 {
		t.Fatalf("after first poll: %+v", got)
	}
	if radio.begins != 1 || radio.lastSSID != "lab" {
		t.Fatalf("BeginAssociation calls = %d ssid = %q", radio.begins, radio.lastSSID)
	}

	l.Poll(linkEpoch.Add(time.Second))
	if l.IsConnected() {
		t.Fatalf("connected before association completed")
	}

	radio.status = models.AssociationAssociated
	now := linkEpoch.Add(2 * time.Second)
	l.Poll(now)
	got := l.Status()
	if got.State != models.LinkConnected {
		t.Fatalf("state = %s, want connected", got.State)
	}
	if !got.Since.Equal(now) {
		t.Errorf("Since = %s, want %s", got.Since, now)
	}
}

func TestLinkManager_NeverSucceedsReachesFailed(t *testing.T) {
	radio := &fakeRadio{}
	policy := LinkPolicy{AttemptTimeout: 10 * time.Second, MaxRetries: 5, Cooldown: time.Minute}
	l := newTestLink(t, radio, policy)

	now := linkEpoch
	step := 500 * time.Millisecond
	for i := 0; i < 1000 && l.Status().State != models.LinkFailed; i++ {
		l.Poll(now)
		if r := l.Status().Retries; r > policy.MaxRetries {
			t.Fatalf("retries = %d exceeds max %d", r, policy.MaxRetries)
		}
		now = now.Add(step)
	}

	got := l.Status()
	if got.State != models.LinkFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	if got.Retries != policy.MaxRetries {
		t.Errorf("retries = %d, want %d", got.Retries, policy.MaxRetries)
	}
	if radio.begins != policy.MaxRetries {
		t.Errorf("association attempts = %d, want %d", radio.begins, policy.MaxRetries)
	}
	// Five attempts of ten seconds each, plus the polls between them.
	if elapsed := now.Sub(linkEpoch); elapsed < 50*time.Second || elapsed > 55*time.Second {
		t.Errorf("reached failed after %s", elapsed)
	}

	// No attempts while cooling down.
	failedAt := got.Since
	l.Poll(failedAt.Add(59 * time.Second))
	if l.Status().State != models.LinkFailed || radio.begins != policy.MaxRetries {
		t.Fatalf("left failed before cooldown: %+v", l.Status())
	}

	l.Poll(failedAt.Add(time.Minute))
	got = l.Status()
	if got.State != models.LinkDisconnected || got.Retries != 0 {
		t.Fatalf("after cooldown: %+v, want disconnected with 0 retries", got)
	}
}

func TestLinkManager_TimeoutBelowMaxRetriesReturnsToDisconnected(t *testing.T) {
	radio := &fakeRadio{}
	l := newTestLink(t, radio, LinkPolicy{AttemptTimeout: time.Second, MaxRetries: 3, Cooldown: time.Minute})

	l.Poll(linkEpoch)
	l.Poll(linkEpoch.Add(999 * time.Millisecond))
	if l.Status().State != models.LinkConnecting {
		t.Fatalf("timed out early: %+v", l.Status())
	}
	l.Poll(linkEpoch.Add(time.Second))
	if got := l.Status(); got.State != models.LinkDisconnected || got.Retries != 1 {
		t.Fatalf("after timeout: %+v", got)
	}
}

func TestLinkManager_RejectionEndsAttemptEarly(t *testing.T) {
	radio := &fakeRadio{}
	l := newTestLink(t, radio, LinkPolicy{AttemptTimeout: time.Hour, MaxRetries: 1, Cooldown: time.Minute})

	l.Poll(linkEpoch)
	radio.status = models.AssociationFailed
	l.Poll(linkEpoch.Add(time.Millisecond))
	if got := l.Status(); got.State != models.LinkFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
}

func TestLinkManager_LossResetsRetries(t *testing.T) {
	radio := &fakeRadio{}
	l := newTestLink(t, radio, LinkPolicy{AttemptTimeout: time.Second, MaxRetries: 5, Cooldown: time.Minute})

	// Two failed attempts, then success.
	now := linkEpoch
	l.Poll(now)
	now = now.Add(time.Second)
	l.Poll(now)
	l.Poll(now)
	radio.status = models.AssociationAssociated
	l.Poll(now)
	if got := l.Status(); got.State != models.LinkConnected || got.Retries != 2 {
		t.Fatalf("before loss: %+v", got)
	}

	radio.status = models.AssociationAssociating
	now = now.Add(time.Second)
	l.Poll(now)
	got := l.Status()
	if got.State != models.LinkDisconnected || got.Retries != 0 {
		t.Fatalf("after loss: %+v, want disconnected with 0 retries", got)
	}

	l.Poll(now)
	if got := l.Status(); got.State != models.LinkConnecting || got.Retries != 1 {
		t.Fatalf("reconnect attempt: %+v", got)
	}
}

func TestLinkManager_PolicyDefaults(t *testing.T) {
	l := newTestLink(t, &fakeRadio{}, LinkPolicy{})
	if l.policy != DefaultLinkPolicy() {
		t.Errorf("policy = %+v, want defaults", l.policy)
	}
}
