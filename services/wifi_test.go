package services

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"airwatch/models"

	"github.com/Wifx/gonetworkmanager/v2"
	"go.uber.org/zap/zaptest"
)

// fakeHost stands in for NetworkManager, the radio driver and the kernel's
// address table.
type fakeHost struct {
	mu          sync.Mutex
	state       gonetworkmanager.NmDeviceState
	stateErr    error
	signal      int
	signalErr   error
	addrs       []net.Addr
	activations []models.Credentials
	activateErr error
	release     chan struct{}
}

func (h *fakeHost) Activate(_ context.Context, iface string, creds models.Credentials) error {
	h.mu.Lock()
	h.activations = append(h.activations, creds)
	h.mu.Unlock()
	if h.release != nil {
		<-h.release
	}
	return h.activateErr
}

func (h *fakeHost) DeviceState(string) (gonetworkmanager.NmDeviceState, error) {
	return h.state, h.stateErr
}

func (h *fakeHost) Signal(string) (int, error) { return h.signal, h.signalErr }

func (h *fakeHost) ifaceAddrs(string) ([]net.Addr, error) { return h.addrs, nil }

func (h *fakeHost) activationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activations)
}

func newTestWiFi(t *testing.T, host *fakeHost) *WiFiService {
	w := NewWiFiService("wlan0", zaptest.NewLogger(t))
	w.nm = host
	w.radio = host
	w.addrs = host.ifaceAddrs
	return w
}

func TestWiFiService_StatusFromInterface(t *testing.T) {
	host := &fakeHost{state: gonetworkmanager.NmDeviceStateDisconnected, signal: -56}
	w := newTestWiFi(t, host)

	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Fatalf("disconnected device: %s", got)
	}

	host.state = gonetworkmanager.NmDeviceStateActivated
	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Fatalf("activated without an address: %s", got)
	}

	host.addrs = []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)},
	}
	if got := w.CurrentStatus(); got != models.AssociationAssociated {
		t.Fatalf("up with an address: %s", got)
	}
	if got := w.LocalAddress(); got != "192.168.1.50" {
		t.Errorf("LocalAddress() = %q", got)
	}
	if got := w.SignalStrength(); got != -56 {
		t.Errorf("SignalStrength() = %d", got)
	}
}

func TestWiFiService_BeginAssociationActivates(t *testing.T) {
	host := &fakeHost{release: make(chan struct{}), activateErr: errors.New("secrets were required")}
	w := newTestWiFi(t, host)

	creds := models.Credentials{SSID: "lab", Password: "secret"}
	w.BeginAssociation(creds)
	w.BeginAssociation(creds)
	waitFor(t, "activation to start", func() bool { return host.activationCount() == 1 })

	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Fatalf("while activating: %s", got)
	}
	close(host.release)

	waitFor(t, "failure to be reported", func() bool {
		return w.CurrentStatus() == models.AssociationFailed
	})
	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Errorf("failure should be reported once, then %s", got)
	}

	if host.activations[0] != creds {
		t.Errorf("activated %+v, want %+v", host.activations[0], creds)
	}
	if host.activationCount() != 1 {
		t.Errorf("concurrent BeginAssociation activated twice")
	}
}

func TestWiFiService_EmptySSIDOnlyWatches(t *testing.T) {
	host := &fakeHost{
		state: gonetworkmanager.NmDeviceStateActivated,
		addrs: []net.Addr{&net.IPAddr{IP: net.ParseIP("10.0.0.7")}},
	}
	w := newTestWiFi(t, host)

	w.BeginAssociation(models.Credentials{})
	if host.activationCount() != 0 {
		t.Fatalf("activation started without an SSID")
	}
	if got := w.CurrentStatus(); got != models.AssociationAssociated {
		t.Errorf("status = %s", got)
	}
}

func TestWiFiService_Unavailable(t *testing.T) {
	w := newTestWiFi(t, &fakeHost{
		stateErr:  errors.New("dbus: connection refused"),
		signalErr: errNoStation,
		addrs:     []net.Addr{&net.IPAddr{IP: net.ParseIP("10.0.0.7")}},
	})
	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Errorf("status = %s", got)
	}
	if got := w.SignalStrength(); got != 0 {
		t.Errorf("SignalStrength() = %d, want 0 when unknown", got)
	}
}

func TestWiFiService_UnknownInterface(t *testing.T) {
	w := newTestWiFi(t, &fakeHost{})
	if got := w.LocalAddress(); got != unspecifiedAddress {
		t.Errorf("LocalAddress() = %q", got)
	}
	if got := w.CurrentStatus(); got != models.AssociationAssociating {
		t.Errorf("status = %s", got)
	}
}

func TestWirelessSettings(t *testing.T) {
	open := wirelessSettings(models.Credentials{SSID: "cafe"})
	if _, ok := open["802-11-wireless-security"]; ok {
		t.Errorf("open network carries a security section")
	}
	if got := string(open["802-11-wireless"]["ssid"].([]byte)); got != "cafe" {
		t.Errorf("ssid = %q", got)
	}

	secured := wirelessSettings(models.Credentials{SSID: "lab", Password: "secret"})
	sec := secured["802-11-wireless-security"]
	if sec["key-mgmt"] != "wpa-psk" || sec["psk"] != "secret" {
		t.Errorf("security = %v", sec)
	}
	if secured["connection"]["uuid"] == open["connection"]["uuid"] {
		t.Errorf("profiles share a uuid")
	}
}
