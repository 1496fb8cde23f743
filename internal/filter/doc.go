// Package filter implements named, ordered permit/deny prefix lists and the
// registry that resolves them by address family and name.
//
// Prefix lists are evaluated first-match-wins in sequence order with an
// implicit deny. Two matching modes exist: prefix mode honours the ge/le
// length bounds of each rule, address mode (used for multicast group
// classification) only tests containment.
package filter
