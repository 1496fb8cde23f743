// Package pim manages PIM routing instances, one per VRF.
//
// A Registry holds every Instance ordered by name. A Controller drives each
// instance through its lifecycle in response to VRF events:
//
//	Created ──VRF created──▶ Bound ──VRF up──▶ Active
//	                           ▲                 │
//	                           └────VRF down─────┘
//
// An administrative delete terminates the instance from any state.
//
// Entering Active runs Enable, which acquires the per-instance kernel
// resources and starts the subordinate ssmpingd sockets and MSDP peers.
// Leaving Active runs Disable, which releases them in reverse order.
//
// Instances are not safe for concurrent use. Every method of Controller,
// Registry and Instance must be called from the daemon's event loop.
package pim
