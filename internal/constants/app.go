package constants

import (
	"time"
)

// Process exit codes
const (
	// ExitOK - normal completion or expected end of experiment
	ExitOK = 0

	// ExitFailure - runtime or resubmission failure
	ExitFailure = 1

	// ExitConfigError - unresolvable configuration error (unknown scheduler,
	// unknown submission mode, calendar disagreement)
	ExitConfigError = 2

	// ExitMonitorKill - a kill trigger fired while monitoring the job
	ExitMonitorKill = 42
)

// Monitor defaults
const (
	// DefaultPollPeriod - sleep between liveness checks of the monitored process
	DefaultPollPeriod = 10 * time.Second

	// MaxPollPeriod - upper bound accepted from settings
	MaxPollPeriod = time.Hour
)

// Staging defaults
const (
	// DiskSafetyMargin - multiplier applied to the byte count before a copy
	DiskSafetyMargin = 1.05

	// CompareBufferSize - chunk size for byte-identity comparisons (1 MB)
	CompareBufferSize = 1024 * 1024

	// MaxSymlinkDepth - links followed before a chain is treated as a loop
	MaxSymlinkDepth = 40
)

// File permissions
const (
	DirPerm     = 0755
	FilePerm    = 0644
	PrivatePerm = 0600
)

// Layout names inside an experiment directory
const (
	ScriptsDir     = "scripts"
	LogDir         = "log"
	WorkDir        = "work"
	UnknownDir     = "unknown"
	RunDirPrefix   = "run_"
	HostfileName   = "hostfile_srun"
	DateFileSuffix = ".date"
	AuditLogSuffix = ".log"
)

// HTTP transport settings shared by notifier and object-store mirror
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPClientTimeout         = 300 * time.Second
)

// InProcessPhases lists the phases allowed to run inside the current process
// when their cluster declares neither batch nor shell submission.
var InProcessPhases = []string{"prepcompute", "tidy", "inspect", "viz"}

// IsInProcessPhase reports whether phase is on the in-process allow-list.
func IsInProcessPhase(phase string) bool {
	for _, p := range InProcessPhases {
		if p == phase {
			return true
		}
	}
	return false
}
