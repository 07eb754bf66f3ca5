package sqlitequeue

import (
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

// OverrideLogger replaces the package logger
// used by backends created without WithLogger.
func OverrideLogger(logger *golog.Logger) {
	log = logger
}
