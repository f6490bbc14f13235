package monitor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/homeguard/internal/router"
	"github.com/goodtune/homeguard/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DeviceView is a device as shown on the dashboard.
type DeviceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Blocked bool   `json:"blocked"`
	Usage   string `json:"usage"`
	MAC     string `json:"mac,omitempty"`
	IP      string `json:"ip,omitempty"`
}

// nameCache remembers the last hostname seen for each MAC so a lease that
// arrives without one still gets a friendly name.
type nameCache struct {
	cache *lru.Cache[string, string]
}

func newNameCache(size int) (*nameCache, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create device name cache: %w", err)
	}
	return &nameCache{cache: cache}, nil
}

func (n *nameCache) remember(mac, name string) {
	if mac == "" || name == "" {
		return
	}
	n.cache.Add(strings.ToLower(mac), name)
}

func (n *nameCache) lookup(mac string) (string, bool) {
	if mac == "" {
		return "", false
	}
	return n.cache.Get(strings.ToLower(mac))
}

// projectDevices maps router records to views. Records carrying a hostname
// refresh the name cache.
func projectDevices(records []router.Device, names *nameCache) []DeviceView {
	out := make([]DeviceView, 0, len(records))
	for i, d := range records {
		names.remember(d.MACAddr, d.Hostname)

		v := DeviceView{
			ID:      d.MACAddr,
			Name:    d.Hostname,
			Type:    d.Type,
			Status:  d.Status,
			Blocked: d.Blocked,
			Usage:   d.Usage,
			MAC:     d.MACAddr,
			IP:      d.IPAddr,
		}

		if v.ID == "" {
			v.ID = string(d.ID)
		}
		if v.ID == "" {
			v.ID = strconv.Itoa(i)
		}

		if v.Name == "" {
			v.Name = d.Name
		}
		if v.Name == "" {
			if cached, ok := names.lookup(d.MACAddr); ok {
				v.Name = cached
			}
		}
		if v.Name == "" {
			v.Name = d.MACAddr
		}
		if v.Name == "" {
			v.Name = fmt.Sprintf("Device %d", i+1)
		}

		if v.Status == "" {
			v.Status = "online"
		}
		if v.Type == "" {
			v.Type = "unknown"
		}
		if v.Usage == "" {
			v.Usage = "0 GB"
		}

		out = append(out, v)
	}
	return out
}

// leasesFromDevices keeps the lease-shaped records, i.e. those with a MAC.
// Expires is the router's remaining lease time in seconds.
func leasesFromDevices(records []router.Device, now time.Time) []storage.Lease {
	var out []storage.Lease
	for _, d := range records {
		if d.MACAddr == "" {
			continue
		}
		lease := storage.Lease{
			MAC:       strings.ToLower(d.MACAddr),
			IP:        d.IPAddr,
			Hostname:  d.Hostname,
			UpdatedAt: now,
		}
		if d.Expires > 0 {
			lease.ExpiresAt = now.Add(time.Duration(d.Expires) * time.Second)
		}
		out = append(out, lease)
	}
	return out
}

// devicesFromLeases rebuilds router records from the lease cache.
func devicesFromLeases(leases []storage.Lease, now time.Time) []router.Device {
	out := make([]router.Device, 0, len(leases))
	for _, l := range leases {
		if l.IsExpired(now) {
			continue
		}
		out = append(out, router.Device{
			Hostname: l.Hostname,
			MACAddr:  l.MAC,
			IPAddr:   l.IP,
		})
	}
	return out
}

func countOnline(devices []DeviceView) int {
	n := 0
	for _, d := range devices {
		if d.Status == "online" {
			n++
		}
	}
	return n
}
