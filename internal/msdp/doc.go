// Package msdp maintains the MSDP peerings of a PIM instance.
//
// Each peering is a TCP connection on port 639. Of the two endpoints, the
// one with the higher address listens and the lower one connects. Once a
// connection is up both ends exchange keepalive messages and tear the
// session down when nothing arrives within the hold time. Source-Active
// messages are framed and counted but not processed.
package msdp
