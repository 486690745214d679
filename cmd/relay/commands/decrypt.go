package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xelth-com/chatrelay/internal/codec"
	"github.com/xelth-com/chatrelay/internal/store"
)

func decryptCmd() *cobra.Command {
	var (
		file string
		room string
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Print a persisted messages file in plaintext",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = cfg.Store.MessagesFile
			}
			key, err := codec.ParseKey(cfg.EncKey, cfg.DeriveKey)
			if err != nil {
				return fmt.Errorf("MESSAGE_ENC_KEY: %w", err)
			}
			c, err := codec.New(key)
			if err != nil {
				return err
			}

			records, err := store.ReadLogFile(file)
			if err != nil {
				return err
			}
			out := records[:0]
			for _, m := range records {
				if room != "" && m.RoomID != room {
					continue
				}
				m.Content = c.Open(m.Content)
				out = append(out, m)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "messages file (defaults to MESSAGES_FILE)")
	cmd.Flags().StringVar(&room, "room", "", "only print this room")
	return cmd
}
