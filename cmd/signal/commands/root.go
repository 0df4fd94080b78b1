package commands

import (
	"github.com/mosaicnetworks/rendezvous/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

//RootCmd is the root command for the rendezvous relay
var RootCmd = &cobra.Command{
	Use:              "signal",
	Short:            "WebRTC rendezvous relay",
	TraverseChildren: true,
}
