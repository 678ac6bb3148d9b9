package panel

import (
	"errors"

	"github.com/daemonp/aap2mqtt/internal/aap"
)

var (
	ErrNotConnected   = aap.ErrNotConnected
	ErrStopTimeout    = errors.New("panel: timed out waiting for session to stop")
	ErrInvalidTarget  = errors.New("panel: invalid target")
	ErrTargetMismatch = errors.New("panel: already running against another target")
	ErrInvalidOutput  = errors.New("panel: output must be positive")
)
