// Package plugins bundles the plugins compiled into the manivault binary
package plugins

import (
	"github.com/manivault/mvcore/plugins/csvloader"
	"github.com/manivault/mvcore/plugins/csvwriter"
	"github.com/manivault/mvcore/plugins/meananalysis"
	"github.com/manivault/mvcore/plugins/points"
	"github.com/manivault/mvcore/sdk"
)

// Builtins returns a fresh factory for every builtin plugin
func Builtins() []sdk.Factory {
	return []sdk.Factory{
		points.NewFactory(),
		csvloader.NewFactory(),
		meananalysis.NewFactory(),
		csvwriter.NewFactory(),
	}
}
