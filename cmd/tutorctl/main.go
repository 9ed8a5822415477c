// Command tutorctl runs the tutor API as a long-lived server and exposes the
// session operations for local use.
package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tutor-agent/internal/app"
	"tutor-agent/internal/config"
)

func main() {
	cobra.CheckErr(newRootCommand().Execute())
}

// cli holds what PersistentPreRunE builds for the subcommands.
type cli struct {
	envFile string
	cfg     config.Config
	logger  *slog.Logger
	app     *app.App
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Resumable tutoring sessions over daily chat logs and Notion records",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(
		newServeCommand(c),
		newResumeCommand(c),
		newSyncCommand(c),
		newCloseCommand(c),
		newCoursesCommand(c),
		newLogCommand(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(c.logger)

	a, err := app.Build(cmd.Context(), cfg, app.WithLogger(c.logger))
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
