package main

import (
	"errors"

	"github.com/andrej220/authclear/pkg/config"
)

const SERVICENAME = "authclear"
const CONFIGFILENAME = "authclear.yaml"
const ENVFILENAME = ".env"

const (
	exitInput  = 1
	exitConfig = 2
)

var (
	Version = "0.1.0"

	// GitSHA is set at build time with -ldflags "-X main.GitSHA=..."
	GitSHA = "not provided"
)

// options are the command line flags. Zero values mean "not set on the
// command line".
type options struct {
	configFile     string
	configStore    string
	mongo          config.MongoConfig
	envFile        string
	envRequired    bool
	maxConcurrency int
	reportFile     string
	debug          bool
	logFormat      string

	breakerThreshold uint32
	breakerSet       bool
}

// exitError carries the process exit status for a failure detected before
// any task runs.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func inputError(err error) error  { return &exitError{code: exitInput, err: err} }
func configError(err error) error { return &exitError{code: exitConfig, err: err} }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitInput
}
