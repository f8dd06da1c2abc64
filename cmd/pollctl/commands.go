// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danielhkuo/pollsync/models"
	"github.com/danielhkuo/pollsync/store"
	"github.com/danielhkuo/pollsync/syncer"
)

var errResetNotConfirmed = errors.New("refusing to wipe local data without --yes")

func parseChoice(s string) (models.Choice, error) {
	switch strings.ToLower(s) {
	case "a", string(models.ChoiceOptionA):
		return models.ChoiceOptionA, nil
	case "b", string(models.ChoiceOptionB):
		return models.ChoiceOptionB, nil
	}
	return "", fmt.Errorf("unknown choice %q (a, b)", s)
}

type voteOutput struct {
	PollID   string        `json:"poll_id" yaml:"poll_id"`
	Choice   models.Choice `json:"choice" yaml:"choice"`
	Accepted bool          `json:"accepted" yaml:"accepted"`
	Queued   bool          `json:"queued" yaml:"queued"`
	VoteID   string        `json:"vote_id,omitempty" yaml:"vote_id,omitempty"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func voteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <poll-id> <a|b>",
		Short: "Vote on a poll, queueing the vote when offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := parseChoice(args[1])
			if err != nil {
				return err
			}
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Vote(cmd.Context(), args[0], choice)
			if err != nil {
				return fmt.Errorf("could not submit vote, try again: %w", err)
			}
			out := voteOutput{
				PollID:   args[0],
				Choice:   choice,
				Accepted: res.Accepted,
				Queued:   res.Queued,
				VoteID:   res.VoteID,
				Reason:   string(res.Reason),
			}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				switch {
				case res.Queued:
					fmt.Fprintln(w, "Offline: vote queued, it will be sent on the next sync")
				case res.Accepted:
					fmt.Fprintf(w, "Vote recorded (%s)\n", res.VoteID)
				default:
					fmt.Fprintf(w, "Vote not counted: %s\n", reasonText(string(res.Reason)))
				}
			})
		},
	}
}

func reasonText(r string) string {
	switch r {
	case models.CodeAlreadyVoted:
		return "you already voted"
	case models.CodePollClosed:
		return "the poll is closed"
	case models.CodePollNotFound:
		return "no such poll"
	}
	return r
}

type statusOutput struct {
	State   string              `json:"state" yaml:"state"`
	Sync    models.SyncStatus   `json:"sync" yaml:"sync"`
	Storage models.StorageUsage `json:"storage" yaml:"storage"`
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pending items and storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			usage, err := c.GetStorageUsage(cmd.Context())
			if err != nil {
				return err
			}
			out := statusOutput{
				State:   c.State().String(),
				Sync:    c.GetSyncStatus(cmd.Context()),
				Storage: usage,
			}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				last := "never"
				if !out.Sync.LastSync.IsZero() {
					last = humanize.Time(out.Sync.LastSync)
				}
				fmt.Fprintf(w, "State:          %s\n", out.State)
				fmt.Fprintf(w, "Last sync:      %s\n", last)
				fmt.Fprintf(w, "Pending votes:  %d\n", out.Sync.PendingVotes)
				fmt.Fprintf(w, "Pending drafts: %d\n", out.Sync.PendingDrafts)
				fmt.Fprintf(w, "Storage:        %s of %s (%.1f%%)\n",
					humanize.IBytes(usage.Used), humanize.IBytes(usage.Quota), usage.Percentage)
				if usage.NeedsCleanup(syncer.DefaultCleanupThreshold) {
					fmt.Fprintln(w, "Storage is nearly full; run \"pollctl cleanup\"")
				}
			})
		},
	}
}

func syncCmd(a *app) *cobra.Command {
	var pull bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued votes and drafts to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			report := c.ForceSync(cmd.Context())
			if pull && !report.Offline {
				c.DownloadRecentPolls(cmd.Context())
			}
			return a.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				switch {
				case report.Offline:
					fmt.Fprintln(w, "Offline: nothing sent")
					return
				case report.Skipped:
					fmt.Fprintln(w, "A sync is already running")
					return
				}
				fmt.Fprintf(w, "Votes:  %d sent, %d still pending\n",
					report.VotesSynced, report.VotesRejected+report.VotesFailed)
				fmt.Fprintf(w, "Drafts: %d published, %d still pending\n",
					report.DraftsSynced, report.DraftsFailed)
				if report.TimedOut {
					fmt.Fprintln(w, "Timed out; the rest will go on the next sync")
				}
				if report.CleanedUp > 0 {
					fmt.Fprintf(w, "Cleaned up %d old records\n", report.CleanedUp)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&pull, "pull", false, "Also download recent polls")
	return cmd
}

func draftsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Manage local poll drafts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List drafts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			drafts, err := c.ListDrafts(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), drafts, func(w io.Writer) {
				if len(drafts) == 0 {
					fmt.Fprintln(w, "No drafts")
					return
				}
				for _, d := range drafts {
					state := "pending"
					if d.Synced {
						state = "published as " + d.ServerPollID
					}
					fmt.Fprintf(w, "%s  %q (%s / %s)  edited %s, %s\n",
						d.ID, d.Title, d.OptionA, d.OptionB, humanize.Time(d.UpdatedAt), state)
				}
			})
		},
	})

	var d models.OfflineDraft
	save := &cobra.Command{
		Use:   "save",
		Short: "Create a draft, or update one with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if d.ID != "" {
				existing, err := c.ListDrafts(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range existing {
					if e.ID == d.ID {
						d = mergeDraft(e, d, cmd)
					}
				}
			}
			saved, err := c.SaveDraft(cmd.Context(), d)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), saved, func(w io.Writer) {
				fmt.Fprintf(w, "Saved draft %s\n", saved.ID)
			})
		},
	}
	save.Flags().StringVar(&d.ID, "id", "", "Draft to update")
	save.Flags().StringVar(&d.Title, "title", "", "Poll title")
	save.Flags().StringVarP(&d.OptionA, "option-a", "a", "", "First option")
	save.Flags().StringVarP(&d.OptionB, "option-b", "b", "", "Second option")
	save.Flags().StringVar(&d.Description, "description", "", "Poll description")
	save.Flags().BoolVar(&d.IsPublic, "public", false, "List the poll publicly once published")
	save.Flags().IntVar(&d.DurationHours, "hours", models.DefaultDurationHours, "Poll lifetime in hours")
	cmd.AddCommand(save)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <draft-id>",
		Short: "Delete a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.DeleteDraft(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted draft %s\n", args[0])
			return nil
		},
	})
	return cmd
}

// mergeDraft keeps the stored value of every field whose flag was not set.
func mergeDraft(stored, edit models.OfflineDraft, cmd *cobra.Command) models.OfflineDraft {
	out := stored
	flags := cmd.Flags()
	if flags.Changed("title") {
		out.Title = edit.Title
	}
	if flags.Changed("option-a") {
		out.OptionA = edit.OptionA
	}
	if flags.Changed("option-b") {
		out.OptionB = edit.OptionB
	}
	if flags.Changed("description") {
		out.Description = edit.Description
	}
	if flags.Changed("public") {
		out.IsPublic = edit.IsPublic
	}
	if flags.Changed("hours") {
		out.DurationHours = edit.DurationHours
	}
	return out
}

func cleanupCmd(a *app) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old cached polls and synced records",
		Long: `Remove cached polls, and votes and drafts already sent to the server,
that are older than --max-age. Queued items are never removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.CleanupOldData(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d polls, %d votes, %d drafts\n", report.Polls, report.Votes, report.Drafts)
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", store.DefaultCleanupAge, "Keep records younger than this")
	return cmd
}

func resetCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local data, including queued votes and anonymous ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errResetNotConfirmed
			}
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.ClearAllData(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Local data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm that queued votes and drafts may be lost")
	return cmd
}

func pollsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polls",
		Short: "Download and show cached polls",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pull [poll-id...]",
		Short: "Download the given polls, or recent public polls",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if len(args) == 0 {
				if !c.DownloadRecentPolls(cmd.Context()) {
					return errors.New("could not download recent polls")
				}
			}
			var failed []string
			for _, id := range args {
				if !c.DownloadPollData(cmd.Context(), id) {
					failed = append(failed, id)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("could not download %s", strings.Join(failed, ", "))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d polls cached\n", len(c.CachedPolls(cmd.Context())))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [poll-id]",
		Short: "Show cached polls",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			var polls []models.OfflinePoll
			if len(args) == 1 {
				p, ok := c.CachedPoll(cmd.Context(), args[0])
				if !ok {
					return fmt.Errorf("poll %s is not cached; run \"pollctl polls pull %s\"", args[0], args[0])
				}
				polls = append(polls, p)
			} else {
				polls = c.CachedPolls(cmd.Context())
			}

			now := time.Now()
			return a.print(cmd.OutOrStdout(), polls, func(w io.Writer) {
				if len(polls) == 0 {
					fmt.Fprintln(w, "No cached polls")
					return
				}
				for _, p := range polls {
					mine := ""
					if choice, ok := c.GetUserVote(cmd.Context(), p.ID); ok {
						mine = fmt.Sprintf("  you voted %s", choice)
					}
					fmt.Fprintf(w, "%s  %q [%s]  %s %d / %s %d%s  (cached %s)\n",
						p.ID, p.Title, models.StatusOf(p.Poll, now),
						p.OptionA, p.OptionAVotes, p.OptionB, p.OptionBVotes,
						mine, humanize.Time(p.CachedAt))
				}
			})
		},
	})
	return cmd
}
