package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errResetNotForced = errors.New("reset deletes the checkpoint; pass --force to confirm")

// newResetCmd creates the 'reset' subcommand.
func newResetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset <source>",
		Short: "Deletes the checkpoint of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errResetNotForced
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			appInstance.Logger().Info("Checkpoint cleared", zap.String("source", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %s cleared\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm deleting the checkpoint")
	return cmd
}
