package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xelth-com/chatrelay/internal/codec"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a MESSAGE_ENC_KEY value",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := codec.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "MESSAGE_ENC_KEY=%s\n", key)
			return nil
		},
	}
}
