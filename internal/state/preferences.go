package state

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// BucketPreferences holds the persisted user intent and boot bookkeeping.
const BucketPreferences = "preferences"

// Preference keys. Each key is written as one whole value.
const (
	KeySelectedUIDs   = "selected_uids"
	KeyAutostart      = "autostart"
	KeyProxyPort      = "proxy_port"
	KeyDNSPort        = "dns_port"
	KeyBootSession    = "current_boot_session"
	KeyServiceStarted = "autostart_service_already_started"
	KeyLastRestore    = "last_service_restore"
	KeyRestoreSuccess = "service_restore_success"
)

// Port defaults used when nothing has been persisted yet.
const (
	DefaultProxyPort = 12345
	DefaultDNSPort   = 10853
)

// Preferences provides typed access to the preferences bucket.
type Preferences struct {
	store            Store
	defaultProxyPort int
	defaultDNSPort   int
	bucketReady      atomic.Bool
}

// NewPreferences wraps store. The bucket is created on first write, so a
// store that is not yet reachable can still be wrapped.
func NewPreferences(store Store) *Preferences {
	return &Preferences{
		store:            store,
		defaultProxyPort: DefaultProxyPort,
		defaultDNSPort:   DefaultDNSPort,
	}
}

// WithDefaultPorts overrides the ports reported when none are persisted.
func (p *Preferences) WithDefaultPorts(proxyPort, dnsPort int) *Preferences {
	if proxyPort > 0 {
		p.defaultProxyPort = proxyPort
	}
	if dnsPort > 0 {
		p.defaultDNSPort = dnsPort
	}
	return p
}

// Ping reports whether the backing store is reachable.
func (p *Preferences) Ping() error {
	return unavailable(p.store.Ping())
}

func (p *Preferences) read(key string, v interface{}) (bool, error) {
	err := p.store.GetJSON(BucketPreferences, key, v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, unavailable(err))
	}
	return true, nil
}

func (p *Preferences) write(key string, v interface{}) error {
	if !p.bucketReady.Load() {
		if err := p.store.CreateBucket(BucketPreferences); err != nil && !errors.Is(err, ErrBucketExists) {
			return fmt.Errorf("write %s: %w", key, unavailable(err))
		}
		p.bucketReady.Store(true)
	}
	if err := p.store.SetJSON(BucketPreferences, key, v); err != nil {
		return fmt.Errorf("write %s: %w", key, unavailable(err))
	}
	return nil
}

// SelectedUIDs returns the persisted UID tokens (empty if never set).
func (p *Preferences) SelectedUIDs() ([]string, error) {
	var uids []string
	if _, err := p.read(KeySelectedUIDs, &uids); err != nil {
		return nil, err
	}
	return uids, nil
}

// SetSelectedUIDs replaces the persisted UID set.
func (p *Preferences) SetSelectedUIDs(uids []string) error {
	if uids == nil {
		uids = []string{}
	}
	return p.write(KeySelectedUIDs, uids)
}

// Autostart reports whether rules should be restored after boot.
func (p *Preferences) Autostart() (bool, error) {
	var on bool
	if _, err := p.read(KeyAutostart, &on); err != nil {
		return false, err
	}
	return on, nil
}

// SetAutostart persists the autostart flag.
func (p *Preferences) SetAutostart(on bool) error {
	return p.write(KeyAutostart, on)
}

// Ports returns the persisted proxy and DNS ports, falling back to defaults.
func (p *Preferences) Ports() (proxyPort, dnsPort int, err error) {
	proxyPort, dnsPort = p.defaultProxyPort, p.defaultDNSPort
	if _, err = p.read(KeyProxyPort, &proxyPort); err != nil {
		return 0, 0, err
	}
	if _, err = p.read(KeyDNSPort, &dnsPort); err != nil {
		return 0, 0, err
	}
	return proxyPort, dnsPort, nil
}

// SetProxyPort persists the proxy port.
func (p *Preferences) SetProxyPort(port int) error {
	return p.write(KeyProxyPort, port)
}

// SetDNSPort persists the DNS port.
func (p *Preferences) SetDNSPort(port int) error {
	return p.write(KeyDNSPort, port)
}

// BootSession returns the stored boot epoch (0 if never recorded) and
// whether recovery was already dispatched in that session.
func (p *Preferences) BootSession() (epoch int64, started bool, err error) {
	if _, err = p.read(KeyBootSession, &epoch); err != nil {
		return 0, false, err
	}
	if _, err = p.read(KeyServiceStarted, &started); err != nil {
		return 0, false, err
	}
	return epoch, started, nil
}

// SetBootEpoch persists the epoch of the current boot session.
func (p *Preferences) SetBootEpoch(epoch int64) error {
	return p.write(KeyBootSession, epoch)
}

// SetServiceStarted persists the per-session dispatch flag.
func (p *Preferences) SetServiceStarted(started bool) error {
	return p.write(KeyServiceStarted, started)
}

// RecordRestore stores the outcome of the last boot restoration.
func (p *Preferences) RecordRestore(at time.Time, success bool) error {
	if err := p.write(KeyLastRestore, at.UnixMilli()); err != nil {
		return err
	}
	return p.write(KeyRestoreSuccess, success)
}

// LastRestore returns the last recorded restoration. ok is false if no
// restoration has ever been recorded.
func (p *Preferences) LastRestore() (at time.Time, success bool, ok bool, err error) {
	var ms int64
	found, err := p.read(KeyLastRestore, &ms)
	if err != nil || !found {
		return time.Time{}, false, false, err
	}
	if _, err := p.read(KeyRestoreSuccess, &success); err != nil {
		return time.Time{}, false, false, err
	}
	return time.UnixMilli(ms), success, true, nil
}
