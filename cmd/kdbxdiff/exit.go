package main

import (
	"errors"

	"github.com/TheMichaelB/kdbxdiff/internal/models"
)

// Process exit codes.
const (
	exitOK               = 0
	exitDifferences      = 1
	exitWrongCredentials = 2
	exitCorrupt          = 3
	exitError            = 4
)

// errDifferences is returned by the diff command when the databases differ.
var errDifferences = errors.New("databases differ")

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errDifferences):
		return exitDifferences
	case models.IsWrongCredentials(err):
		return exitWrongCredentials
	case models.IsCorrupt(err):
		return exitCorrupt
	default:
		return exitError
	}
}
