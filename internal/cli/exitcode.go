package cli

import (
	"errors"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/monitor"
)

// ExitCode maps an error returned by Execute onto the process status.
func ExitCode(err error) int {
	if err == nil {
		return constants.ExitOK
	}
	var killed *monitor.KilledError
	if errors.As(err, &killed) {
		return killed.ExitCode()
	}
	if config.IsConfigError(err) {
		return constants.ExitConfigError
	}
	return constants.ExitFailure
}
