//go:build !linux

package sandbox

import "errors"

// RunLauncher is only needed inside a Linux sandbox.
func RunLauncher(args []string) error {
	if _, _, err := parseLauncherArgs(args); err != nil {
		return err
	}
	return errors.New(LauncherCommand + " is only supported on linux")
}
