package core

import (
	"errors"

	"github.com/hashicorp/go-version"
)

// LatestProtocolVersion is stamped into every outbound WireMessage and
// checked against every inbound one, so a mixed-version group fails
// loudly instead of misinterpreting an incompatible wire layout.
const LatestProtocolVersion = "1.0.0"

// ErrUnsupportedProtocol is returned when a peer's protocol tag is newer
// than this build understands.
var ErrUnsupportedProtocol = errors.New("gcs: protocol version not supported")

var latestVersion = version.Must(version.NewVersion(LatestProtocolVersion))

// checkProtocolVersion rejects a tag newer than this build knows how to
// speak. An empty, older or malformed tag is accepted without error.
func checkProtocolVersion(tag string) error {
	if tag == "" {
		return nil
	}
	v, err := version.NewVersion(tag)
	if err != nil {
		return nil
	}
	if v.GreaterThan(latestVersion) {
		return ErrUnsupportedProtocol
	}
	return nil
}
