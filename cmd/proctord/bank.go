package main

import (
	"fmt"

	"github.com/fyrsmithlabs/proctord/internal/proctor"
	"github.com/fyrsmithlabs/proctord/internal/questionbank"
	"github.com/spf13/cobra"
)

func newBankCmd() *cobra.Command {
	bank := &cobra.Command{
		Use:   "bank",
		Short: "Question bank operations",
	}
	bank.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a question bank file",
		Long: `Parse a YAML or TOML question bank and check every question.

Examples:
  proctord bank validate questions.yaml
  proctord bank validate questions.toml`,
		Args: cobra.ExactArgs(1),
		RunE: runBankValidate,
	})
	return bank
}

func runBankValidate(cmd *cobra.Command, args []string) error {
	b, err := questionbank.LoadFile(args[0])
	if err != nil {
		return err
	}
	code := 0
	for _, q := range b.Questions {
		if q.Kind == proctor.KindCode {
			code++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d questions (%d code)\n", args[0], len(b.Questions), code)
	return nil
}
