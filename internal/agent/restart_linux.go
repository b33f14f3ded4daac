//go:build linux

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// restartUnit restarts a systemd-managed agent service over D-Bus.
func restartUnit(ctx context.Context, unit string) error {
	if !strings.HasSuffix(unit, ".service") {
		unit += ".service"
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("systemd connection: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("failed to restart %s: %w", unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("restart %s: job result %q", unit, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
