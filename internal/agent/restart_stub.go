//go:build !linux

package agent

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("agent: systemd unit restart is linux-only")

func restartUnit(ctx context.Context, unit string) error {
	return ErrUnsupported
}
