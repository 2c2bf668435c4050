package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/edgelesssys/go-tdx-attest/quote"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the fields of a TDX quote",
		Long: `Print the fields of a TDX quote.

FILE holds either the raw quote or the JSON string printed by the quote command.
Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
	cmd.Flags().StringP("output", "o", "yaml", "output format: json or yaml")
	return cmd
}

// quoteSummary is the printable form of a quote.
type quoteSummary struct {
	Version            uint16    `json:"version" yaml:"version"`
	AttestationKeyType uint16    `json:"attestationKeyType" yaml:"attestationKeyType"`
	TEEType            string    `json:"teeType" yaml:"teeType"`
	VendorID           string    `json:"vendorID" yaml:"vendorID"`
	TCBSVN             string    `json:"tcbSVN" yaml:"tcbSVN"`
	MRSEAM             string    `json:"mrSEAM" yaml:"mrSEAM"`
	MRSignerSEAM       string    `json:"mrSignerSEAM" yaml:"mrSignerSEAM"`
	SEAMAttributes     string    `json:"seamAttributes" yaml:"seamAttributes"`
	TDAttributes       string    `json:"tdAttributes" yaml:"tdAttributes"`
	XFAM               string    `json:"xfam" yaml:"xfam"`
	MRTD               string    `json:"mrTD" yaml:"mrTD"`
	MRConfigID         string    `json:"mrConfigID" yaml:"mrConfigID"`
	MROwner            string    `json:"mrOwner" yaml:"mrOwner"`
	MROwnerConfig      string    `json:"mrOwnerConfig" yaml:"mrOwnerConfig"`
	RTMR               [4]string `json:"rtmr" yaml:"rtmr"`
	ReportData         string    `json:"reportData" yaml:"reportData"`
	SignatureLength    uint32    `json:"signatureLength" yaml:"signatureLength"`
	CertificationType  uint16    `json:"certificationDataType" yaml:"certificationDataType"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown output format %q", format)
	}

	var raw []byte
	if args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading quote: %w", err)
	}
	rawQuote, err := decodeQuoteFile(raw)
	if err != nil {
		return err
	}

	parsed, err := quote.ParseQuote(rawQuote)
	if err != nil {
		return err
	}
	summary := summarize(parsed)

	var out []byte
	if format == "json" {
		out, err = json.MarshalIndent(summary, "", "  ")
	} else {
		out, err = yaml.Marshal(summary)
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd, string(bytes.TrimSpace(out)))
}

// decodeQuoteFile accepts a raw quote or a JSON string holding its base64 encoding.
func decodeQuoteFile(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return raw, nil
	}
	var encoded string
	if err := json.Unmarshal(trimmed, &encoded); err != nil {
		return nil, fmt.Errorf("decoding JSON quote: %w", err)
	}
	rawQuote, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 quote: %w", err)
	}
	return rawQuote, nil
}

func summarize(q quote.SGXQuote4) quoteSummary {
	teeType := fmt.Sprintf("%#x", q.Header.TEEType)
	switch q.Header.TEEType {
	case quote.TEETypeTDX:
		teeType = "TDX"
	case quote.TEETypeSGX:
		teeType = "SGX"
	}

	s := quoteSummary{
		Version:            q.Header.Version,
		AttestationKeyType: q.Header.AttestationKeyType,
		TEEType:            teeType,
		VendorID:           hex.EncodeToString(q.Header.VendorID[:]),
		TCBSVN:             hex.EncodeToString(q.Body.TCBSVN[:]),
		MRSEAM:             hex.EncodeToString(q.Body.MRSEAM[:]),
		MRSignerSEAM:       hex.EncodeToString(q.Body.MRSIGNERSEAM[:]),
		SEAMAttributes:     fmt.Sprintf("%016x", q.Body.SEAMAttributes),
		TDAttributes:       fmt.Sprintf("%016x", q.Body.TDAttributes),
		XFAM:               fmt.Sprintf("%016x", q.Body.XFAM),
		MRTD:               hex.EncodeToString(q.Body.MRTD[:]),
		MRConfigID:         hex.EncodeToString(q.Body.MRCONFIG[:]),
		MROwner:            hex.EncodeToString(q.Body.MROWNER[:]),
		MROwnerConfig:      hex.EncodeToString(q.Body.MROWNERCONFIG[:]),
		ReportData:         hex.EncodeToString(q.Body.ReportData[:]),
		SignatureLength:    q.SignatureLength,
		CertificationType:  q.Signature.CertificationDataType,
	}
	for i, rtmr := range q.Body.RTMR {
		s.RTMR[i] = hex.EncodeToString(rtmr[:])
	}
	return s
}
