package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a room and host it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		room := domain.NewRoomID()
		fmt.Fprintf(cmd.OutOrStdout(), "Room %s created. Share: meetsync join %s\n", room, room)
		return runMeeting(ctx, clientDeps(cfg), meetingParams{Room: room, Name: name, Host: true}, os.Stdin, cmd.OutOrStdout())
	},
}
