package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/captian-latiao/NestStupidHome-sub000/pkg/chart"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/household"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/inventory"
	"github.com/captian-latiao/NestStupidHome-sub000/pkg/trend"
)

// timeLayout is used for every instant printed by the CLI.
const timeLayout = "Mon 02 Jan 2006 15:04 MST"

// withSession opens the database around fn.
func (c *cli) withSession(fn func(cmd *cobra.Command, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := c.open()
		if err != nil {
			return err
		}
		defer s.Close()
		return fn(cmd, s, args)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func days(p *message.Printer, v float64, known bool) string {
	if !known {
		return "unknown"
	}
	return p.Sprintf("%.1f days", v)
}

// =============================================================================
// Status
// =============================================================================

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show water, chores and stock at the current virtual time",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			snap, err := s.db.View(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), s.p, snap)
			return nil
		}),
	}
}

func printSnapshot(w io.Writer, p *message.Printer, snap household.Snapshot) {
	p.Fprintf(w, "🏠 %s (%s) at %s\n\n", snap.Name, snap.HouseholdID, snap.At.Format(timeLayout))

	water := snap.Water
	p.Fprintf(w, "Water: %.1f of %.1f L (%.0f%%), %s\n", water.Level, water.Capacity, water.Percentage, water.Reading.Label)
	p.Fprintf(w, "  empty in %s, rate %.3f L/h (learned %.3f), %s\n\n",
		days(p, water.DaysToEmpty, water.DaysKnown), water.Rate, water.LearnedRate, water.Phase)

	tw := newTable(w)
	for _, group := range []struct {
		title string
		tasks []household.TaskView
	}{
		{"Hygiene", snap.Hygiene},
		{"Pet care", snap.PetCare},
	} {
		if len(group.tasks) == 0 {
			continue
		}
		p.Fprintf(tw, "%s\t\t\t\n", group.title)
		for _, t := range group.tasks {
			p.Fprintf(tw, "  %s\t%.0f%%\t%s\t%.0fh left\n", t.Name, t.Percentage, t.Reading.Label, t.Reading.Remaining)
		}
	}
	if len(snap.Items) > 0 {
		p.Fprintf(tw, "Stock\t\t\t\n")
		for _, it := range snap.Items {
			flag := ""
			if it.Estimate.Low {
				flag = "low"
			}
			p.Fprintf(tw, "  %s\t%v %s\t%s\t%s\n", it.Name, it.Quantity, it.Unit,
				days(p, it.Estimate.DaysLeft, it.Estimate.DaysKnown), flag)
		}
	}
	tw.Flush()

	p.Fprintf(w, "\n%d of %d need attention\n", snap.Stats.NeedsAttention(), snap.Stats.Total)
}

// =============================================================================
// Water
// =============================================================================

func (c *cli) refillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refill",
		Short: "Record that the water tank was refilled",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			h, report, err := s.db.Refill(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			s.p.Fprintf(w, "💧 Tank refilled at %s (%.1f L)\n", h.Local(report.Timestamp).Format(timeLayout), h.Water.Capacity)
			switch {
			case report.Outlier:
				s.p.Fprintf(w, "   Cycle ignored as outlier (%s): implied %.3f L/h, keeping %.3f L/h\n",
					report.Kind, report.ImpliedRate, report.LearnedRate)
			default:
				s.p.Fprintf(w, "   Learned rate %.3f → %.3f L/h over %.1f active hours\n",
					report.PreviousRate, report.LearnedRate, report.ElapsedActive)
			}
			return nil
		}),
	}
}

func (c *cli) calibrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate <liters>",
		Short: "Correct the estimated water level with an observed one",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			level, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid level %q: %w", args[0], err)
			}
			if _, err := s.db.Calibrate(cmd.Context(), s.id, level); err != nil {
				return err
			}
			snap, err := s.db.View(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			s.p.Fprintf(cmd.OutOrStdout(), "📏 Water now %.1f L, rate %.3f L/h\n", snap.Water.Level, snap.Water.Rate)
			return nil
		}),
	}
}

// =============================================================================
// Chores
// =============================================================================

// findTask resolves a task by ID or case-insensitive name.
func findTask(h household.Household, ref string) (household.Task, error) {
	if t, _, err := h.Task(ref); err == nil {
		return t, nil
	}
	for _, tasks := range [][]household.Task{h.Hygiene, h.PetCare} {
		for _, t := range tasks {
			if strings.EqualFold(t.Name, ref) {
				return t, nil
			}
		}
	}
	return household.Task{}, fmt.Errorf("%w: %s", household.ErrTaskNotFound, ref)
}

func (c *cli) cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean <task>",
		Short: "Mark a chore as done",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			t, err := findTask(h, args[0])
			if err != nil {
				return err
			}
			t, err = s.db.CompleteTask(cmd.Context(), s.id, t.ID)
			if err != nil {
				return err
			}
			s.p.Fprintf(cmd.OutOrStdout(), "✨ %s done at %s\n", t.Name, h.Local(t.LastResetAt).Format(timeLayout))
			return nil
		}),
	}
}

// =============================================================================
// Stock
// =============================================================================

// findItem resolves an item by ID or case-insensitive name.
func findItem(h household.Household, ref string) (inventory.Item, error) {
	if it, err := h.Item(ref); err == nil {
		return it, nil
	}
	for _, it := range h.Inventory {
		if strings.EqualFold(it.Name, ref) {
			return it, nil
		}
	}
	return inventory.Item{}, fmt.Errorf("%w: %s", household.ErrItemNotFound, ref)
}

func (c *cli) stockCmd() *cobra.Command {
	stockCmd := &cobra.Command{
		Use:   "stock",
		Short: "List and adjust consumables",
	}

	stockCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List consumables with their projections",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			snap, err := s.db.View(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			s.p.Fprintf(tw, "ID\tNAME\tQUANTITY\tPER DAY\tLEFT\n")
			for _, it := range snap.Items {
				rate := "unknown"
				if it.Estimate.RateKnown {
					rate = s.p.Sprintf("%.2f", it.Estimate.Rate)
				}
				s.p.Fprintf(tw, "%s\t%s\t%v %s\t%s\t%s\n", it.ID, it.Name, it.Quantity, it.Unit, rate,
					days(s.p, it.Estimate.DaysLeft, it.Estimate.DaysKnown))
			}
			return tw.Flush()
		}),
	})

	addCmd := &cobra.Command{
		Use:   "add <name> <quantity>",
		Short: "Track a new consumable",
		Args:  cobra.ExactArgs(2),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			qty, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			unit, _ := cmd.Flags().GetString("unit")
			low, _ := cmd.Flags().GetFloat64("low")
			it, err := s.db.AddItem(cmd.Context(), s.id, args[0], unit, qty, low)
			if err != nil {
				return err
			}
			s.p.Fprintf(cmd.OutOrStdout(), "📦 Added %s (%s): %v %s\n", it.Name, it.ID, it.Quantity, it.Unit)
			return nil
		}),
	}
	addCmd.Flags().String("unit", "", "Unit label, e.g. rolls")
	addCmd.Flags().Float64("low", 1, "Low-stock threshold")
	stockCmd.AddCommand(addCmd)

	adjustCmd := &cobra.Command{
		Use:   "adjust <item> <delta>",
		Short: "Add or remove stock; negative deltas record consumption",
		Args:  cobra.ExactArgs(2),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			delta, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid delta %q: %w", args[1], err)
			}
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			it, err := findItem(h, args[0])
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")
			it, err = s.db.AdjustItem(cmd.Context(), s.id, it.ID, delta, note)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			s.p.Fprintf(w, "📦 %s: %v %s\n", it.Name, it.Quantity, it.Unit)
			if it.IsLow() {
				s.p.Fprintf(w, "   ⚠️  running low (threshold %v)\n", it.LowStock)
			}
			return nil
		}),
	}
	adjustCmd.Flags().String("note", "", "Free-text note stored with the change")
	stockCmd.AddCommand(adjustCmd)

	countCmd := &cobra.Command{
		Use:   "count <item> <quantity>",
		Short: "Record a stocktake; the counted quantity replaces the balance",
		Args:  cobra.ExactArgs(2),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			qty, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[1], err)
			}
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			it, err := findItem(h, args[0])
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")
			it, err = s.db.CountItem(cmd.Context(), s.id, it.ID, qty, note)
			if err != nil {
				return err
			}
			s.p.Fprintf(cmd.OutOrStdout(), "📦 %s counted: %v %s\n", it.Name, it.Quantity, it.Unit)
			return nil
		}),
	}
	countCmd.Flags().String("note", "stocktake", "Free-text note stored with the change")
	stockCmd.AddCommand(countCmd)

	stockCmd.AddCommand(&cobra.Command{
		Use:   "remove <item>",
		Short: "Stop tracking a consumable",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			it, err := findItem(h, args[0])
			if err != nil {
				return err
			}
			if err := s.db.RemoveItem(cmd.Context(), s.id, it.ID); err != nil {
				return err
			}
			s.p.Fprintf(cmd.OutOrStdout(), "🗑️  Removed %s\n", it.Name)
			return nil
		}),
	})
	return stockCmd
}

// =============================================================================
// Trends and charts
// =============================================================================

func (c *cli) trendCmd() *cobra.Command {
	trendCmd := &cobra.Command{
		Use:   "trend",
		Short: "Print daily water use or an item's stock history",
	}
	trendCmd.PersistentFlags().Int("days", 0, "Window in days (default 7)")

	trendCmd.AddCommand(&cobra.Command{
		Use:   "water",
		Short: "Liters used per day",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			n, _ := cmd.Flags().GetInt("days")
			points, err := s.db.WaterTrend(cmd.Context(), s.id, n)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			for _, pt := range points {
				s.p.Fprintf(tw, "%s\t%.2f L\n", pt.Day, pt.Amount)
			}
			return tw.Flush()
		}),
	})

	trendCmd.AddCommand(&cobra.Command{
		Use:   "item <item>",
		Short: "Stock balance changes of one item",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			n, _ := cmd.Flags().GetInt("days")
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			it, err := findItem(h, args[0])
			if err != nil {
				return err
			}
			points, err := s.db.InventoryTrend(cmd.Context(), s.id, it.ID, n)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			for _, pt := range points {
				if pt.Kind == trend.PointHold {
					continue
				}
				s.p.Fprintf(tw, "%s\t%v\t%s\n", h.Local(pt.At).Format(timeLayout), pt.Balance, pt.Kind)
			}
			return tw.Flush()
		}),
	})
	return trendCmd
}

func (c *cli) chartCmd() *cobra.Command {
	chartCmd := &cobra.Command{
		Use:   "chart",
		Short: "Render a trend as a PNG file",
	}
	pf := chartCmd.PersistentFlags()
	pf.StringP("out", "o", "", "Output file (default <kind>.png)")
	pf.Int("width", 0, "Image width in pixels")
	pf.Int("height", 0, "Image height in pixels")
	pf.Int("days", 0, "Window in days (default 7)")

	options := func(cmd *cobra.Command) chart.Options {
		w, _ := cmd.Flags().GetInt("width")
		h, _ := cmd.Flags().GetInt("height")
		return chart.Options{Width: w, Height: h}
	}
	write := func(cmd *cobra.Command, fallback string, png []byte) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fallback
		}
		if err := os.WriteFile(out, png, 0o644); err != nil {
			return fmt.Errorf("writing chart: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📈 Chart written to %s\n", out)
		return nil
	}

	chartCmd.AddCommand(&cobra.Command{
		Use:   "water",
		Short: "Bar chart of liters used per day",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			n, _ := cmd.Flags().GetInt("days")
			points, err := s.db.WaterTrend(cmd.Context(), s.id, n)
			if err != nil {
				return err
			}
			opts := options(cmd)
			opts.Title, opts.Unit = "Water used per day", "L"
			png, err := chart.RenderWater(points, opts)
			if err != nil {
				return err
			}
			return write(cmd, "water.png", png)
		}),
	})

	chartCmd.AddCommand(&cobra.Command{
		Use:   "item <item>",
		Short: "Step chart of one item's stock",
		Args:  cobra.ExactArgs(1),
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			n, _ := cmd.Flags().GetInt("days")
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			it, err := findItem(h, args[0])
			if err != nil {
				return err
			}
			points, err := s.db.InventoryTrend(cmd.Context(), s.id, it.ID, n)
			if err != nil {
				return err
			}
			opts := options(cmd)
			opts.Title, opts.Unit = it.Name, it.Unit
			png, err := chart.RenderSteps(points, opts)
			if err != nil {
				return err
			}
			return write(cmd, it.ID+".png", png)
		}),
	})
	return chartCmd
}

// =============================================================================
// Activity
// =============================================================================

func (c *cli) activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the newest journal entries",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, s *session, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			res, err := s.db.Activity(s.id, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(res.Events) == 0 {
				fmt.Fprintln(w, "No activity recorded")
				return nil
			}
			h, err := s.db.Get(cmd.Context(), s.id)
			if err != nil {
				return err
			}
			tw := newTable(w)
			for _, e := range res.Events {
				target := e.Resource
				if e.ResourceID != "" {
					target += "/" + e.ResourceID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Local(e.Timestamp).Format(timeLayout), e.Type, target, e.Reason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if res.HasMore {
				fmt.Fprintf(w, "… %d more\n", res.TotalCount-len(res.Events))
			}
			return nil
		}),
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to show")
	return cmd
}
