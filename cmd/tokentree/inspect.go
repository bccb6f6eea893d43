package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tokentree/internal/machine"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.tmsnap>",
	Short: "Decode a machine snapshot and print its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := readSnapshot(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), m.Dump())
		return nil
	},
}

func readSnapshot(path string) (*machine.Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return machine.DecodeSnapshot(data)
}
