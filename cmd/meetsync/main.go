// Command meetsync joins or hosts a mesh meeting from the terminal.
package main

import (
	"os"

	"github.com/dkeye/meetsync/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagName      string
	flagLogLevel  string
	flagRelayURL  string
	flagAudioFile string
)

var rootCmd = &cobra.Command{
	Use:   "meetsync",
	Short: "Peer-to-peer meetings with a host-managed roster",
	Long: `MeetSync connects every participant of a room directly to every other one.
The host owns the room id; guests dial the host, learn the roster and call the rest.

Examples:
  meetsync host --name Alice
  meetsync join k3v9x0q2b --name Bob`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(lvl)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "display name (1-36 characters)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().StringVar(&flagRelayURL, "relay", "", "relay WebSocket URL, overrides client.relay_url")
	rootCmd.PersistentFlags().StringVar(&flagAudioFile, "audio", "", "Ogg/Opus file used as microphone, overrides client.audio_file")
	rootCmd.AddCommand(hostCmd, joinCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagRelayURL != "" {
		cfg.Client.RelayURL = flagRelayURL
	}
	if flagAudioFile != "" {
		cfg.Client.AudioFile = flagAudioFile
	}
	return cfg, nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meetsync failed")
		os.Exit(1)
	}
}
