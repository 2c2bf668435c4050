package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/edgelesssys/go-tdx-attest/tdx"
	"github.com/spf13/cobra"
)

func newMeasureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Print TD measurement registers",
		Long: `Print TD measurement registers as hex.

Index 0 is MRTD, indices 1 to 4 are RTMR0 to RTMR3.
A negative index prints all registers.`,
		Args: cobra.NoArgs,
		RunE: runMeasure,
	}
	cmd.Flags().Int("index", -1, "measurement register index")
	addServerFlag(cmd)
	return cmd
}

func runMeasure(cmd *cobra.Command, _ []string) error {
	index, err := cmd.Flags().GetInt("index")
	if err != nil {
		return err
	}
	indices := []int{index}
	if index < 0 {
		indices = []int{0, 1, 2, 3, 4}
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()

	var get func(int) ([]byte, error)
	client, err := dialServer(cmd)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
		get = func(i int) ([]byte, error) {
			return client.GetMeasurement(ctx, i, tdx.AlgorithmSHA384)
		}
	} else {
		cfg, log, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		provider, err := newProvider(cfg, log)
		if err != nil {
			return err
		}
		measurements, err := provider.ReadMeasurements(ctx)
		if err != nil {
			return err
		}
		get = func(i int) ([]byte, error) {
			return measurements.ByIndex(i, tdx.AlgorithmSHA384)
		}
	}

	for _, i := range indices {
		value, err := get(i)
		if err != nil {
			return err
		}
		if err := writeOutput(cmd, fmt.Sprintf("%s: %s", registerName(i), hex.EncodeToString(value))); err != nil {
			return err
		}
	}
	return nil
}

func registerName(index int) string {
	if index == 0 {
		return "MRTD"
	}
	return fmt.Sprintf("RTMR%d", index-1)
}
