package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/service/ui"
)

var (
	searchLimit int
	graphLimit  int
	reviewLimit int
	contactOpts core.Contact
	reviewType  string
	reviewName  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over stored utterances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		hits, err := a.conversations.SearchUtterances(ctx, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no matches")
			return nil
		}

		rows := make([][]string, 0, len(hits))
		for _, h := range hits {
			rows = append(rows, []string{humanize.Time(h.StartedAt), h.SessionID, h.SpeakerID, h.Snippet})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"WHEN", "SESSION", "SPEAKER", "MATCH"}, rows))
		return nil
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph [name]",
	Short: "Show the strongest relationships, or those of one entity",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		edges := a.graph.Edges()
		if len(args) == 1 {
			matches := a.catalog.Find(args[0])
			if len(matches) == 0 {
				return fmt.Errorf("no entity named %q: %w", args[0], core.ErrNotFound)
			}
			e := matches[0]
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), last mentioned %s\n",
				e.DisplayName, e.Type, humanize.Time(e.LastMentionedAt))
			edges = a.graph.Neighbors(e.ID, "")
		}
		if len(edges) > graphLimit {
			edges = edges[:graphLimit]
		}

		name := func(id string) string {
			if e, ok := a.catalog.Get(id); ok {
				return e.DisplayName
			}
			return id
		}

		rows := make([][]string, 0, len(edges))
		for _, r := range edges {
			rows = append(rows, []string{
				name(r.Source),
				string(r.Type),
				name(r.Target),
				strconv.FormatFloat(r.Weight, 'f', 2, 64),
				strconv.Itoa(r.EvidenceCount),
				humanize.Time(r.LastSeenAt),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"SOURCE", "RELATION", "TARGET", "WEIGHT", "EVIDENCE", "LAST SEEN"}, rows))
		return nil
	},
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage the contacts used for recipient lookup",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		contacts, err := a.contacts.ListContacts(ctx)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(contacts))
		for _, c := range contacts {
			rows = append(rows, []string{c.Name, c.Email, c.Phone, strings.Join(c.Aliases, ", "), c.Relationship})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"NAME", "EMAIL", "PHONE", "ALIASES", "RELATIONSHIP"}, rows))
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a contact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		c := contactOpts
		c.Name = strings.Join(args, " ")
		if err := a.contacts.SaveContact(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved contact %s\n", c.Name)
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and approve mentions that need a human",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open review items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.entities.ListReview(ctx, reviewLimit)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(items))
		for _, it := range items {
			rows = append(rows, []string{
				strconv.FormatInt(it.ID, 10),
				it.SurfaceText,
				string(it.EntityType),
				string(it.Band),
				strconv.FormatFloat(it.Confidence, 'f', 2, 64),
				humanize.Time(it.CreatedAt),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"ID", "MENTION", "TYPE", "BAND", "CONFIDENCE", "QUEUED"}, rows))
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Promote a review item to a canonical entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("review id must be a number: %w", err)
		}

		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		item, err := a.entities.GetReview(ctx, id)
		if err != nil {
			return err
		}

		typ := item.EntityType
		if reviewType != "" {
			parsed, ok := core.ParseEntityType(reviewType)
			if !ok {
				return fmt.Errorf("%w: unknown entity type %q", core.ErrInputMalformed, reviewType)
			}
			typ = parsed
		}
		name := item.SurfaceText
		if reviewName != "" {
			name = reviewName
		}

		e, err := a.catalog.Promote(ctx, id, typ, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "promoted %q to %s %s (%s)\n", item.SurfaceText, e.Type, e.DisplayName, e.ID)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "maximum matches")
	graphCmd.Flags().IntVarP(&graphLimit, "limit", "n", 25, "maximum edges")
	reviewListCmd.Flags().IntVarP(&reviewLimit, "limit", "n", 50, "maximum items")

	contactsAddCmd.Flags().StringVar(&contactOpts.Email, "email", "", "email address")
	contactsAddCmd.Flags().StringVar(&contactOpts.Phone, "phone", "", "phone number")
	contactsAddCmd.Flags().StringSliceVar(&contactOpts.Aliases, "alias", nil, "alternative name, repeatable")
	contactsAddCmd.Flags().StringVar(&contactOpts.Relationship, "relationship", "", "e.g. colleague, client")

	reviewApproveCmd.Flags().StringVar(&reviewType, "type", "", "override the entity type")
	reviewApproveCmd.Flags().StringVar(&reviewName, "name", "", "override the canonical name")

	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewApproveCmd)
	rootCmd.AddCommand(searchCmd, graphCmd, contactsCmd, reviewCmd)
}
