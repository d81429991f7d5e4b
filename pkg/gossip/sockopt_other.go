//go:build !unix

package gossip

import (
	"errors"
	"syscall"
)

func enableBroadcast(_, _ string, _ syscall.RawConn) error {
	return errors.New("SO_BROADCAST is only supported on unix platforms")
}
