package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tutor-agent/internal/domain"
)

func newResumeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Print where the learner left off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, c.app.Resolver.Resolve(cmd.Context()))
		},
	}
}

func newSyncCommand(c *cli) *cobra.Command {
	var course, chapter string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Summarize today's session for a course and chapter into a record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := c.app.Summarizer.Summarize(cmd.Context(), course, chapter)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&course, "course", "", "course name")
	cmd.Flags().StringVar(&chapter, "chapter", "", "chapter name")
	_ = cmd.MarkFlagRequired("course")
	_ = cmd.MarkFlagRequired("chapter")
	return cmd
}

func newCloseCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "close [date]",
		Short: "Record the last open session of a day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := c.app.Summarizer.Today()
			if len(args) == 1 {
				date = args[0]
			}
			rec, skipped, err := c.app.Summarizer.CloseOpenSession(cmd.Context(), date)
			if errors.Is(err, domain.ErrNoSession) {
				fmt.Fprintf(cmd.OutOrStdout(), "no turns logged on %s\n", date)
				return nil
			}
			if err != nil {
				return err
			}
			if skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "session already recorded\n")
			}
			return printJSON(cmd, rec)
		},
	}
}

func newCoursesCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List the courses waiting to be studied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			courses, err := c.app.Catalog.Courses(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, courses)
		},
	}
}

func newLogCommand(c *cli) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the daily chat logs",
	}
	logCmd.AddCommand(
		&cobra.Command{
			Use:   "show [date]",
			Short: "Print the turns of one day (default today)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				date := c.app.Logs.Today()
				if len(args) == 1 {
					date = args[0]
				}
				p, err := c.app.Logs.Read(cmd.Context(), date)
				if err != nil {
					return err
				}
				return printJSON(cmd, p.Turns)
			},
		},
		&cobra.Command{
			Use:   "latest",
			Short: "Print the most recently modified day",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				date, err := c.app.Logs.FindMostRecentPartition(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), date)
				return nil
			},
		},
	)
	return logCmd
}
