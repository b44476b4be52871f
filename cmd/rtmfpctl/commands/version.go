package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/sanjayc77/cumulus/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print rtmfpctl version",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(appversion.Full("rtmfpctl"))
			return nil
		},
	}
}
