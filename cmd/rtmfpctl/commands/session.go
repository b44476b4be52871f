package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// adminSession mirrors internal/server/admin.go's adminSession wire shape.
type adminSession struct {
	ID              uint32 `json:"id"`
	PeerAddr        string `json:"peer_addr"`
	Failed          bool   `json:"failed"`
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	FlowCount       int    `json:"flow_count"`
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect RTMFP sessions",
	}

	cmd.AddCommand(sessionListCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all RTMFP sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var sessions []adminSession
			if err := getJSON("/sessions", &sessions); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func formatSessions(sessions []adminSession, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal sessions to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(sessions []adminSession) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPEER\tFAILED\tSENT\tRECV\tFLOWS")

	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%d\t%d\n",
			s.ID, s.PeerAddr, s.Failed, s.PacketsSent, s.PacketsReceived, s.FlowCount)
	}

	_ = w.Flush()
	return buf.String()
}
