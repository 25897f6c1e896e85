package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and edit the match history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent matches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		byDay, _ := cmd.Flags().GetBool("by-day")
		return withHistory(func(h *history.Store) error {
			if byDay {
				groups, err := h.GroupedByDate(time.Local)
				if err != nil {
					return err
				}
				for _, g := range groups {
					fmt.Printf("📅 %s\n", g.Day.Format("Mon, 02 Jan 2006"))
					printRecords(g.Records)
				}
				return nil
			}
			recs, err := h.FetchRecent(limit)
			if err != nil {
				return err
			}
			printRecords(recs)
			return nil
		})
	},
}

var historyFavoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List favorite matches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			recs, err := h.FetchFavorites()
			if err != nil {
				return err
			}
			printRecords(recs)
			return nil
		})
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles, artists and genres",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			recs, err := h.Search(strings.Join(args, " "))
			if err != nil {
				return err
			}
			printRecords(recs)
			return nil
		})
	},
}

var historyFavoriteCmd = &cobra.Command{
	Use:   "favorite <record_id>",
	Short: "Toggle the favorite flag of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			rec, err := h.ToggleFavorite(args[0])
			if err != nil {
				return err
			}
			state := "removed from"
			if rec.IsFavorite {
				state = "added to"
			}
			fmt.Printf("⭐ %q %s favorites\n", rec.Title, state)
			return nil
		})
	},
}

var historyNoteCmd = &cobra.Command{
	Use:   "note <record_id> [text]",
	Short: "Set or clear the note on a record",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			rec, err := h.UpdateNote(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if rec.UserNote == nil {
				fmt.Printf("📝 Cleared note on %q\n", rec.Title)
			} else {
				fmt.Printf("📝 Saved note on %q\n", rec.Title)
			}
			return nil
		})
	},
}

var historyPlayCmd = &cobra.Command{
	Use:   "play <record_id>",
	Short: "Count a replay of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			rec, err := h.IncrementPlayCount(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("▶️  %q played %d times\n", rec.Title, rec.PlayCount)
			return nil
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <record_id>...",
	Short: "Delete records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			var err error
			if len(args) == 1 {
				err = h.Delete(args[0])
			} else {
				err = h.DeleteBatch(args)
			}
			if err != nil {
				return err
			}
			fmt.Printf("✅ Deleted %d record(s)\n", len(args))
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the whole history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear history without --yes")
		}
		return withHistory(func(h *history.Store) error {
			if err := h.DeleteAll(); err != nil {
				return err
			}
			fmt.Println("🧹 History cleared")
			return nil
		})
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show listening statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		top, _ := cmd.Flags().GetInt("top")
		return withHistory(func(h *history.Store) error {
			period, err := h.PeriodStatistics(time.Now())
			if err != nil {
				return err
			}
			genres, err := h.GenreStatistics()
			if err != nil {
				return err
			}
			artists, err := h.ArtistStatistics()
			if err != nil {
				return err
			}

			fmt.Printf("📊 %d matches in the last 7 days, %d in the last 30, %d overall\n",
				period.Last7Days, period.Last30Days, period.AllTime)
			printStats("Top artists", artists, top)
			printStats("Top genres", genres, top)
			return nil
		})
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the history as JSON (stdout by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			if len(args) == 0 || args[0] == "-" {
				return h.ExportJSON(os.Stdout)
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := h.ExportJSON(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		})
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "number of records to show")
	historyListCmd.Flags().Bool("by-day", false, "group all records by day")
	historyClearCmd.Flags().Bool("yes", false, "confirm deletion")
	historyStatsCmd.Flags().Int("top", 5, "entries per histogram")

	historyCmd.AddCommand(historyListCmd, historyFavoritesCmd, historySearchCmd, historyFavoriteCmd,
		historyNoteCmd, historyPlayCmd, historyDeleteCmd, historyClearCmd, historyStatsCmd, historyExportCmd)
	rootCmd.AddCommand(historyCmd)
}

func withHistory(fn func(*history.Store) error) error {
	dir := viper.GetString("data-dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	h, err := history.Open(filepath.Join(dir, "history.sqlite3"), history.WithLogger(logger.GetLogger()))
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func printRecords(recs []models.HistoryRecord) {
	if len(recs) == 0 {
		fmt.Println("📭 Nothing here")
		return
	}
	for _, r := range recs {
		star := "  "
		if r.IsFavorite {
			star = "⭐"
		}
		fmt.Printf("%s \"%s\" by %s  (%s, %s)\n", star, r.Title, r.Artist, humanize.Time(r.MatchedAt), r.ID)
		if r.PlayCount > 1 {
			fmt.Printf("   played %d times\n", r.PlayCount)
		}
		if r.FromCatalog {
			fmt.Printf("   from catalog %q\n", r.CatalogName)
		}
		if r.UserNote != nil {
			fmt.Printf("   📝 %s\n", *r.UserNote)
		}
	}
}

func printStats(title string, stats []history.Stat, top int) {
	if len(stats) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, s := range stats[:min(top, len(stats))] {
		fmt.Printf("  %-30s %s\n", s.Name, strings.Repeat("█", min(s.Count, 40))+fmt.Sprintf(" %d", s.Count))
	}
}
