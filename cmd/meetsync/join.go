package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join an existing room as a guest",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := domain.ParseRoomID(args[0])
		if err != nil {
			return err
		}
		name := strings.TrimSpace(flagName)
		if err := domain.ValidateUsername(name); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runMeeting(ctx, clientDeps(cfg), meetingParams{Room: room, Name: name}, os.Stdin, cmd.OutOrStdout())
	},
}
