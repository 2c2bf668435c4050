package cmd

import (
	"encoding/json"

	"github.com/edgelesssys/go-tdx-attest/eventlog"
	"github.com/spf13/cobra"
)

func newEventlogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventlog",
		Short: "Print the CCEL event log as JSON",
		Args:  cobra.NoArgs,
		RunE:  runEventlog,
	}
	cmd.Flags().Int("start", 0, "index of the first event")
	cmd.Flags().Int("count", 0, "number of events, 0 for all remaining events")
	addServerFlag(cmd)
	return cmd
}

func runEventlog(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	start, err := flags.GetInt("start")
	if err != nil {
		return err
	}
	count, err := flags.GetInt("count")
	if err != nil {
		return err
	}

	var events []eventlog.Event
	client, err := dialServer(cmd)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if events, err = client.GetEventlog(ctx, start, count); err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		all, err := eventlog.Read(cfg.EventlogPaths...)
		if err != nil {
			return err
		}
		if events, err = eventlog.Page(all, start, count); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd, string(out))
}
