//go:build !linux && !darwin && !freebsd

package crypto

import "errors"

var errNoMlock = errors.New("memory locking not supported")

func lockMemory([]byte) error { return errNoMlock }

func unlockMemory([]byte) error { return nil }
