//go:build !linux

package worker

// EnableParentDeathSignal is a no-op on platforms without PR_SET_PDEATHSIG.
func EnableParentDeathSignal() error {
	return nil
}
