package soundmatch

import (
	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/dispatch"
)

// Logger is the logging surface every component accepts.
type Logger = logger.Leveled

// Provider answers signatures with ranked candidates. The reference library
// and catalog stores both implement it.
type Provider = dispatch.Provider
