package cmd

import (
	"github.com/edgelesssys/go-tdx-attest/tdx"
	"github.com/spf13/cobra"
)

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Generate a TDX quote",
		Long: `Generate a TDX quote binding the given nonce and user data.

The report data of the quote is SHA-512(nonce || user data).
The quote is printed as JSON string of its standard base64 encoding.`,
		Args: cobra.NoArgs,
		RunE: runQuote,
	}
	cmd.Flags().String("nonce", "", "standard base64 encoded nonce (required)")
	cmd.Flags().String("user-data", "", "standard base64 encoded user data")
	must(cmd.MarkFlagRequired("nonce"))
	addServerFlag(cmd)
	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	nonce, err := flags.GetString("nonce")
	if err != nil {
		return err
	}
	userData, err := flags.GetString("user-data")
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()

	client, err := dialServer(cmd)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
		encoded, err := client.GetQuote(ctx, nonce, userData)
		if err != nil {
			return err
		}
		return writeOutput(cmd, encoded)
	}

	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	provider, err := newProvider(cfg, log)
	if err != nil {
		return err
	}
	rawQuote, err := provider.GenerateQuoteBase64(ctx, nonce, userData)
	if err != nil {
		return err
	}
	encoded, err := tdx.EncodeQuote(rawQuote)
	if err != nil {
		return err
	}
	return writeOutput(cmd, encoded)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
