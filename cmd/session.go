package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal-runtime/internal/config"
	"github.com/opalhq/opal-runtime/internal/sessions"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect sessions persisted under the data directory",
	}
	cmd.AddCommand(sessionLsCmd())
	return cmd
}

func sessionLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store := sessions.NewStore(cfg.DataDirPath())
			ids, err := store.List()
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("no persisted sessions")
				return nil
			}
			for _, id := range ids {
				_, meta, err := store.Load(id)
				if err != nil {
					fmt.Printf("%s\t(unreadable: %v)\n", id, err)
					continue
				}
				fmt.Printf("%s\t%s\t%s\tupdated %s\n", id, meta.Title, meta.Model.ModelID, meta.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
