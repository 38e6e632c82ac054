// Package transport holds concrete, swappable implementations of
// types.Channel. The core package never imports this package — it only
// consumes the types.Channel interface — so a host is free to plug in
// any of these, or its own, without the core caring (spec.md §1, §6).
package transport

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// BuildVersion is the adapter build's own version string, advertised on
// the presence channel so peers on an incompatible build can be
// rejected before they ever reach the replication core.
const BuildVersion = "1.0.0"

// NegotiateVersion reports whether a peer advertising peerVersion is
// compatible with this build, i.e. peerVersion >= minVersion. Used by
// the presence/handshake leg of each concrete adapter; the replicated
// core itself never sees an incompatible peer because the adapter drops
// it first.
func NegotiateVersion(peerVersion, minVersion string) (bool, error) {
	peer, err := version.NewVersion(peerVersion)
	if err != nil {
		return false, fmt.Errorf("transport: invalid peer version %q: %w", peerVersion, err)
	}
	min, err := version.NewVersion(minVersion)
	if err != nil {
		return false, fmt.Errorf("transport: invalid minimum version %q: %w", minVersion, err)
	}
	return peer.Compare(min) >= 0, nil
}
