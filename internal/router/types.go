package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Status is the master connectivity state.
type Status struct {
	InternetActive bool `json:"internet_active"`
}

// Counter is a cumulative byte counter. Routers report it either as a JSON
// number or as a numeric string, so both are accepted.
type Counter uint64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Counter) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		// Some firmwares emit floats for large counters.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f < 0 {
			return fmt.Errorf("invalid counter %s", data)
		}
		v = uint64(f)
	}

	*c = Counter(v)
	return nil
}

// FlexID is an identifier the backend emits as either a number or a string.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = FlexID(n.String())
	return nil
}

// Traffic holds the WAN interface counters.
type Traffic struct {
	Rx Counter `json:"rx"`
	Tx Counter `json:"tx"`
}

// DataUsage is the router's own formatted usage summary.
type DataUsage struct {
	Total    string `json:"total"`
	Download string `json:"download,omitempty"`
	Upload   string `json:"upload,omitempty"`
}

// Device is a device record as the backend reports it. Lease-based backends
// fill Hostname/MACAddr/IPAddr; managed backends fill ID/Name/Status.
type Device struct {
	ID       FlexID `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	Status   string `json:"status,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
	Usage    string `json:"usage,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	MACAddr  string `json:"macaddr,omitempty"`
	IPAddr   string `json:"ipaddr,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
}

// Stats is the combined traffic/device payload of /api/stats.
type Stats struct {
	Traffic          *Traffic  `json:"traffic,omitempty"`
	Devices          []Device  `json:"devices,omitempty"`
	ConnectedDevices *int      `json:"connectedDevices,omitempty"` // overrides the lease count when present
	DataUsage        DataUsage `json:"dataUsage"`
}

// RuleRecord is a backend-side block or allow entry.
type RuleRecord struct {
	ID     FlexID `json:"id"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// Blocklist is the combined app and custom block state.
type Blocklist struct {
	Apps   map[string]bool `json:"apps"`
	Custom []RuleRecord    `json:"custom"`
}

// Change is one entry of a batch apply request.
type Change struct {
	Sequence uint64 `json:"sequence"`
	List     string `json:"list"`
	Action   string `json:"action"`
	Domain   string `json:"domain"`
}

// ApplyRequest is the body of POST /api/blocklist/apply.
type ApplyRequest struct {
	Changes []Change `json:"changes"`
}

// JobStatus is the state of the router's background blocklist job.
type JobStatus string

const (
	JobIdle    JobStatus = "idle"
	JobLoading JobStatus = "loading"
	JobError   JobStatus = "error"
)

// AdblockStatus is the payload of /api/adblock/status.
type AdblockStatus struct {
	Status JobStatus `json:"status"`
}

// LogEntry is one line of the background job log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}
