package main

import (
	"os"

	"github.com/go-delve/rdbg/cmd/rdbg/cmds"
	"github.com/go-delve/rdbg/pkg/version"
	"github.com/sirupsen/logrus"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.RdbgVersion.Build = Build
	}

	if err := cmds.New(false).Execute(); err != nil {
		logrus.WithFields(logrus.Fields{"layer": "rdbg"}).Error(err)
		os.Exit(1)
	}
}
