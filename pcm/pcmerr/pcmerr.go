/*
NAME
  pcmerr.go

DESCRIPTION
  pcmerr defines the sentinel errors returned across the PCM plug-in
  contract (build, transfer, action) and a bridge back to the legacy
  negative-errno integer convention that contract follows.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pcmerr provides the sentinel errors shared by the rate and route
// PCM plug-ins.
package pcmerr

import "errors"

// Sentinel errors returned by plug-in build and transfer operations.
var (
	// EINVAL is returned for configuration errors (incompatible channel
	// counts, non-linear formats, equal/unequal rates as required, weights
	// outside [0, FULL]) and for misaligned areas at transfer time.
	EINVAL = errors.New("pcm: invalid argument")

	// EFAULT is returned when a required pointer-equivalent (slice) is nil.
	EFAULT = errors.New("pcm: bad address")
)

// Errno renders err as the negative errno-style integer the original
// plug-in contract returns, for callers bridging to that convention. It
// returns 0 for a nil error and -1 for any error not one of this
// package's sentinels.
func Errno(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, EINVAL):
		return -22
	case errors.Is(err, EFAULT):
		return -14
	default:
		return -1
	}
}
