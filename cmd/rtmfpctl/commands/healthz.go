package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// healthzResponse mirrors internal/server/admin.go's healthzResponse.
type healthzResponse struct {
	Bound             bool   `json:"bound"`
	LocalPort         uint16 `json:"local_port"`
	Sessions          int    `json:"sessions"`
	PendingHandshakes int    `json:"pending_handshakes"`
}

func healthzCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthz",
		Short: "Report dispatcher liveness",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var resp healthzResponse
			if err := getJSON("/healthz", &resp); err != nil {
				return fmt.Errorf("get healthz: %w", err)
			}

			if outputFormat == formatJSON {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal healthz to JSON: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("bound:              %t\n", resp.Bound)
			fmt.Printf("local_port:         %d\n", resp.LocalPort)
			fmt.Printf("sessions:           %d\n", resp.Sessions)
			fmt.Printf("pending_handshakes: %d\n", resp.PendingHandshakes)
			return nil
		},
	}
}
