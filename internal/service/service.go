// Package service hosts a Runner under the operating system service manager.
package service

import "context"

// RunModeEnv is set to "service" in the environment of processes the
// service manager launches. Unit files written at install time set it.
const RunModeEnv = "SELFSERVE_RUN_MODE"

// Runner is the hosted workload.
type Runner interface {
	// Start launches the workload and returns once it is running.
	Start() error
	// Stop shuts the workload down and waits for it to finish.
	Stop() error
}

// Host runs a Runner for the lifetime of a service-manager launch.
type Host interface {
	// Run blocks until the service manager, a signal or ctx asks the
	// workload to stop.
	Run(ctx context.Context, r Runner) error
	// IsService reports whether the process was launched by the service manager.
	IsService() bool
}
