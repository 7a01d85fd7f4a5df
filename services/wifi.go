package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"airwatch/models"

	"github.com/Wifx/gonetworkmanager/v2"
	"github.com/google/uuid"
	"github.com/mdlayher/wifi"
	"go.uber.org/zap"
)

const (
	associationTimeout = 30 * time.Second
	activationPoll     = 250 * time.Millisecond
	unspecifiedAddress = "0.0.0.0"
)

var errNoStation = errors.New("interface not associated with an access point")

// networkManager is the NetworkManager surface the service needs.
type networkManager interface {
	// Activate joins the network and blocks until the connection is
	// activated, fails, or ctx ends.
	Activate(ctx context.Context, iface string, creds models.Credentials) error
	DeviceState(iface string) (gonetworkmanager.NmDeviceState, error)
}

// radioStats reads per-station link data from the driver.
type radioStats interface {
	Signal(iface string) (int, error)
}

// WiFiService joins a wireless network through NetworkManager and reports
// link health. With an empty SSID it only watches the interface, which suits
// wired development hosts.
type WiFiService struct {
	iface  string
	logger *zap.Logger

	nm    networkManager
	radio radioStats
	addrs func(iface string) ([]net.Addr, error)

	mu          sync.Mutex
	associating bool
	failed      bool
}

func NewWiFiService(iface string, logger *zap.Logger) *WiFiService {
	return &WiFiService{
		iface:  iface,
		logger: logger,
		nm:     &dbusNetworkManager{logger: logger},
		radio:  nl80211Stats{},
		addrs:  interfaceAddrs,
	}
}

func interfaceAddrs(iface string) ([]net.Addr, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	return ifi.Addrs()
}

// BeginAssociation starts activation in the background and returns
// immediately. A call while an association is already running is ignored.
func (w *WiFiService) BeginAssociation(creds models.Credentials) {
	if creds.SSID == "" {
		w.logger.Debug("No SSID configured, watching interface state only", zap.String("interface", w.iface))
		return
	}

	w.mu.Lock()
	if w.associating {
		w.mu.Unlock()
		return
	}
	w.associating = true
	w.failed = false
	w.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), associationTimeout)
		defer cancel()

		err := w.nm.Activate(ctx, w.iface, creds)
		if err != nil {
			w.logger.Warn("Wireless activation failed", zap.String("ssid", creds.SSID), zap.Error(err))
		} else {
			w.logger.Info("Wireless activation finished", zap.String("ssid", creds.SSID))
		}

		w.mu.Lock()
		w.associating = false
		w.failed = err != nil
		w.mu.Unlock()
	}()
}

// CurrentStatus reports associated once NetworkManager has activated the
// device and it holds an IPv4 address. A failed activation is reported once,
// until the next attempt.
func (w *WiFiService) CurrentStatus() models.AssociationStatus {
	if w.activated() && w.LocalAddress() != unspecifiedAddress {
		return models.AssociationAssociated
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		w.failed = false
		return models.AssociationFailed
	}
	return models.AssociationAssociating
}

func (w *WiFiService) activated() bool {
	state, err := w.nm.DeviceState(w.iface)
	if err != nil {
		return false
	}
	return state == gonetworkmanager.NmDeviceStateActivated
}

// SignalStrength returns the signal level in dBm, or 0 when unknown.
func (w *WiFiService) SignalStrength() int {
	signal, err := w.radio.Signal(w.iface)
	if err != nil {
		return 0
	}
	return signal
}

// LocalAddress returns the interface's first IPv4 address.
func (w *WiFiService) LocalAddress() string {
	addrs, err := w.addrs(w.iface)
	if err != nil {
		return unspecifiedAddress
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return unspecifiedAddress
}

// wirelessSettings builds a NetworkManager connection profile for creds.
func wirelessSettings(creds models.Credentials) map[string]map[string]interface{} {
	settings := map[string]map[string]interface{}{
		"connection": {
			"id":   creds.SSID,
			"uuid": uuid.NewString(),
			"type": "802-11-wireless",
		},
		"802-11-wireless": {
			"ssid": []byte(creds.SSID),
			"mode": "infrastructure",
		},
		"ipv4": {"method": "auto"},
		"ipv6": {"method": "auto"},
	}
	if creds.Password != "" {
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      creds.Password,
		}
	}
	return settings
}

// dbusNetworkManager talks to NetworkManager over the system bus. The
// profile added by the last successful activation is removed before the next
// one is added.
type dbusNetworkManager struct {
	logger *zap.Logger

	mu      sync.Mutex
	profile gonetworkmanager.Connection
}

func (d *dbusNetworkManager) device(iface string) (gonetworkmanager.NetworkManager, gonetworkmanager.Device, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach NetworkManager: %w", err)
	}
	dev, err := nm.GetDeviceByIpIface(iface)
	if err != nil {
		return nil, nil, fmt.Errorf("no NetworkManager device for %s: %w", iface, err)
	}
	return nm, dev, nil
}

func (d *dbusNetworkManager) DeviceState(iface string) (gonetworkmanager.NmDeviceState, error) {
	_, dev, err := d.device(iface)
	if err != nil {
		return gonetworkmanager.NmDeviceStateUnknown, err
	}
	return dev.GetPropertyState()
}

func (d *dbusNetworkManager) Activate(ctx context.Context, iface string, creds models.Credentials) error {
	nm, dev, err := d.device(iface)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.profile != nil {
		if err := d.profile.Delete(); err != nil {
			d.logger.Debug("Failed to remove previous wireless profile", zap.Error(err))
		}
		d.profile = nil
	}

	active, err := nm.AddAndActivateConnection(wirelessSettings(creds), dev)
	if err != nil {
		return fmt.Errorf("failed to activate %q on %s: %w", creds.SSID, iface, err)
	}
	profile, err := active.GetPropertyConnection()
	if err == nil {
		d.profile = profile
	}

	ticker := time.NewTicker(activationPoll)
	defer ticker.Stop()
	for {
		state, err := active.GetPropertyState()
		if err != nil {
			return fmt.Errorf("failed to read activation state: %w", err)
		}
		switch state {
		case gonetworkmanager.NmActiveConnectionStateActivated:
			return nil
		case gonetworkmanager.NmActiveConnectionStateDeactivating,
			gonetworkmanager.NmActiveConnectionStateDeactivated:
			return fmt.Errorf("activation of %q was rejected", creds.SSID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// nl80211Stats reads station info through nl80211.
type nl80211Stats struct{}

func (nl80211Stats) Signal(iface string) (int, error) {
	c, err := wifi.New()
	if err != nil {
		return 0, err
	}
	defer c.Close()

	ifis, err := c.Interfaces()
	if err != nil {
		return 0, err
	}
	for _, ifi := range ifis {
		if ifi.Name != iface {
			continue
		}
		stations, err := c.StationInfo(ifi)
		if err != nil {
			return 0, err
		}
		if len(stations) == 0 {
			return 0, errNoStation
		}
		return stations[0].Signal, nil
	}
	return 0, fmt.Errorf("wireless interface %s not found", iface)
}
