/*
NAME
  plugin.go

DESCRIPTION
  plugin.go defines Plugin, the contract shared by the rate and route
  engines that the surrounding plug-in chain (out of scope here)
  dispatches through, and Action, the plug-in lifecycle signal.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pcm defines the contract shared by this module's PCM
// stream-transform plug-ins (rate and route) and the strided,
// per-format building blocks they're built from.
package pcm

import "github.com/kelpwave/pcmchain/pcm/area"

// Action identifies a plug-in lifecycle event. Rate responds to
// Init, Prepare, Drain, and Flush by resetting its phase and per-channel
// state; every other Action (and every plug-in for Route) silently
// ignores it.
type Action int

const (
	Init Action = iota
	Prepare
	Drain
	Flush
	Other
)

// Plugin is the operation contract both engines implement. Failures
// surface as pcmerr sentinels rather than negative frame counts;
// pcmerr.Errno converts for callers that need the raw integer.
type Plugin interface {
	// Transfer reads frames of src and writes into dst, returning the
	// number of destination frames produced.
	Transfer(src, dst []area.Area, frames int) (int, error)

	// Action notifies the plug-in of a lifecycle event.
	Action(a Action) error

	// Free releases any per-destination resources the plug-in owns.
	Free()
}
