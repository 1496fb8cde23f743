// Package pimapi defines the pim.v1.PimService API shared by the pimd
// daemon and the pimctl client.
//
// Messages are plain Go structs carried by ConnectRPC with a JSON codec.
package pimapi

import "time"

// ServiceName is the fully-qualified name of the PIM service.
const ServiceName = "pim.v1.PimService"

// InstanceHealthPrefix prefixes per-instance health check service names,
// e.g. "pim.v1.Instance/red".
const InstanceHealthPrefix = "pim.v1.Instance/"

// Procedure paths of the PIM service.
const (
	ListInstancesProcedure     = "/" + ServiceName + "/ListInstances"
	GetInstanceProcedure       = "/" + ServiceName + "/GetInstance"
	ShowRunningConfigProcedure = "/" + ServiceName + "/ShowRunningConfig"
	SetSSMRangeProcedure       = "/" + ServiceName + "/SetSSMRange"
	ClassifyGroupProcedure     = "/" + ServiceName + "/ClassifyGroup"
)

// -------------------------------------------------------------------------
// Instances
// -------------------------------------------------------------------------

// InstanceSummary is the listing view of a PIM instance.
type InstanceSummary struct {
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Bound   bool      `json:"bound"`
	VRFID   uint32    `json:"vrf_id,omitempty"`
	Table   uint32    `json:"table,omitempty"`
	Created time.Time `json:"created"`
}

// InstanceDetail is the full view of a PIM instance.
type InstanceDetail struct {
	InstanceSummary

	Family          string        `json:"family"`
	SSMRange        string        `json:"ssm_range,omitempty"`
	KeepAlive       time.Duration `json:"keep_alive"`
	RPKeepAlive     time.Duration `json:"rp_keep_alive"`
	SPTSwitchover   string        `json:"spt_switchover"`
	ECMP            bool          `json:"ecmp"`
	ECMPRebalance   bool          `json:"ecmp_rebalance"`
	SendV6Secondary bool          `json:"send_v6_secondary"`
	RPFEntries      int           `json:"rpf_entries"`
	Interfaces      []string      `json:"interfaces,omitempty"`
	SSMPing         []SSMPingInfo `json:"ssmping,omitempty"`
	MSDPPeers       []MSDPPeer    `json:"msdp_peers,omitempty"`
	StaticRoutes    []string      `json:"static_routes,omitempty"`
}

// SSMPingInfo describes one SSM-ping responder.
type SSMPingInfo struct {
	Source   string    `json:"source"`
	Running  bool      `json:"running"`
	Requests int64     `json:"requests"`
	Created  time.Time `json:"created"`
}

// MSDPPeer describes one MSDP peering.
type MSDPPeer struct {
	Peer           string        `json:"peer"`
	Source         string        `json:"source"`
	State          string        `json:"state"`
	Role           string        `json:"role"`
	Uptime         time.Duration `json:"uptime"`
	Establishments uint64        `json:"establishments"`
	KeepalivesSent uint64        `json:"keepalives_sent"`
	KeepalivesRecv uint64        `json:"keepalives_received"`
}

// ListInstancesRequest requests every instance in registry order.
type ListInstancesRequest struct{}

// ListInstancesResponse carries the instance summaries.
type ListInstancesResponse struct {
	Instances []InstanceSummary `json:"instances"`
}

// GetInstanceRequest selects an instance by VRF name.
type GetInstanceRequest struct {
	Name string `json:"name"`
}

// GetInstanceResponse carries one instance.
type GetInstanceResponse struct {
	Instance InstanceDetail `json:"instance"`
}

// -------------------------------------------------------------------------
// Configuration & SSM
// -------------------------------------------------------------------------

// ShowRunningConfigRequest requests the configuration dump.
type ShowRunningConfigRequest struct{}

// ShowRunningConfigResponse carries the configuration text.
type ShowRunningConfigResponse struct {
	Config string `json:"config"`
}

// SetSSMRangeRequest sets the SSM range prefix list of an instance.
// An empty PrefixList restores the well-known range.
type SetSSMRangeRequest struct {
	VRF        string `json:"vrf"`
	PrefixList string `json:"prefix_list"`
}

// SetSSMRangeResponse reports whether the instance was reevaluated.
type SetSSMRangeResponse struct {
	Reevaluated bool `json:"reevaluated"`
}

// ClassifyGroupRequest asks for the SSM/ASM classification of a group.
type ClassifyGroupRequest struct {
	VRF   string `json:"vrf"`
	Group string `json:"group"`
}

// ClassifyGroupResponse carries the classification.
type ClassifyGroupResponse struct {
	Group string `json:"group"`
	SSM   bool   `json:"ssm"`

	// Range is the prefix list consulted, empty for the well-known range.
	Range string `json:"range,omitempty"`
}
