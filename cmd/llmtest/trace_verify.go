package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/llmtest/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain + signature)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	result, err := trace.VerifyFile(args[0])
	if err != nil {
		return err
	}

	if !result.Valid {
		fmt.Fprintf(out, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(out, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}

	fmt.Fprintf(out, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	if !result.Complete {
		fmt.Fprintf(out, "⚠ Trace has no run_complete event (run interrupted?)\n")
	}

	switch {
	case result.SignatureOK:
		fmt.Fprintf(out, "✓ Signature valid\n")
	case result.SignatureNoKey:
		fmt.Fprintf(out, "⚠ Signature present but no %s set to verify\n", trace.SigningKeyEnv)
	case result.Signed:
		fmt.Fprintf(out, "✗ Signature invalid\n")
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
