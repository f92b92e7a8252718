// Package bootstrap opens the single process-wide network listener.
//
// The port can be given explicitly, or derived deterministically from a
// seed string. Deterministic-but-distributed port selection lets
// independent processes avoid collisions without a central registry while
// staying reproducible for a given seed.
package bootstrap

import "unicode/utf8"

// portHashFactor is the multiplier of the rolling hash. It must not change:
// existing deployments rely on the exact seed-to-port mapping.
const portHashFactor = 0xd2d84a61

// portBase is the start of the IANA dynamic/private (ephemeral) port range.
const portBase = 49152

// portRange is the number of distinct ports the hash can produce (2^14).
// portBase + portRange - 1 = 65535, the top of the ephemeral range.
const portRange = 1 << 14

// PortHash maps a seed string to a port in [49152, 65535].
//
// The algorithm is a rolling hash over the seed's characters folded once
// with the character count:
//
//	val += (val>>3) + code*factor   for each character
//	val += (val>>3) + len*factor
//
// It is a pure function: the same seed yields the same port across calls
// and process restarts, and the result must stay bit-for-bit stable for
// interop with deployments that expect this mapping.
func PortHash(seed string) int {
	var val uint64
	for _, c := range seed {
		val += (val >> 3) + uint64(c)*portHashFactor
	}
	val += (val >> 3) + uint64(utf8.RuneCountInString(seed))*portHashFactor
	return portBase + int(val%portRange)
}
