package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for DSM
var RootCmd = &cobra.Command{
	Use:              "dsm",
	Short:            "distributed shared memory node",
	TraverseChildren: true,
}
