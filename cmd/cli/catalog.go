package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanishpuri/soundmatch/pkg/logger"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage local catalogs of reference signatures",
}

var catalogCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		return withCatalogs(func(store *catalog.Store) error {
			meta, err := store.Create(args[0], desc)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created catalog %q (ID: %s)\n", meta.Name, meta.ID)
			return nil
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogs, most recently modified first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			metas, err := store.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Println("📭 No catalogs")
				return nil
			}
			for i, m := range metas {
				imported := ""
				if m.Imported {
					imported = " [imported]"
				}
				fmt.Printf("%d. %s%s (ID: %s)\n", i+1, m.Name, imported, m.ID)
				fmt.Printf("   %d items | %s of audio | modified %s\n",
					m.ItemCount, formatSeconds(m.TotalDuration), humanize.Time(m.ModifiedAt))
			}
			return nil
		})
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <catalog_id>",
	Short: "Show a catalog and its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			meta, err := store.Get(args[0])
			if err != nil {
				return err
			}
			items, err := store.Items(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("📚 %s\n", meta.Name)
			if meta.Description != "" {
				fmt.Printf("   %s\n", meta.Description)
			}
			fmt.Printf("   Created %s, %d items\n\n", humanize.Time(meta.CreatedAt), meta.ItemCount)
			for i, it := range items {
				fmt.Printf("%d. \"%s\" by %s (ID: %s)\n", i+1, it.Title, it.Artist, it.ID)
				if len(it.Genres) > 0 {
					fmt.Printf("   Genres: %v\n", it.Genres)
				}
				if it.Duration > 0 {
					fmt.Printf("   Duration: %s\n", formatSeconds(it.Duration))
				}
				for k, v := range it.CustomProperties {
					fmt.Printf("   %s: %s\n", k, v)
				}
			}
			return nil
		})
	},
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <catalog_id> <audio_file>...",
	Short: "Fingerprint audio files into a catalog",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCatalogAdd,
}

var catalogRemoveCmd = &cobra.Command{
	Use:   "remove <catalog_id> <item_id>",
	Short: "Remove an item from a catalog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			if err := store.RemoveItem(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("✅ Removed item %s\n", args[1])
			return nil
		})
	},
}

var catalogDeleteCmd = &cobra.Command{
	Use:   "delete <catalog_id>",
	Short: "Delete a catalog and all its signatures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			meta, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ Deleted catalog %q\n", meta.Name)
			return nil
		})
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export <catalog_id> <destination>",
	Short: "Export a catalog as a directory, or a .tar.xz archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			dest := args[1]
			if isArchive(dest) {
				f, err := os.Create(dest)
				if err != nil {
					return err
				}
				if err := store.ExportArchive(args[0], f); err != nil {
					f.Close()
					os.Remove(dest)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				if fi, err := os.Stat(dest); err == nil {
					fmt.Printf("📦 Wrote %s (%s)\n", dest, humanize.Bytes(uint64(fi.Size())))
				}
				return nil
			}
			out, err := store.Export(args[0], dest)
			if err != nil {
				return err
			}
			fmt.Printf("📦 Exported to %s\n", out)
			return nil
		})
	},
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import a catalog directory or .tar.xz archive under a fresh ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			src := args[0]
			if isArchive(src) {
				f, ferr := os.Open(src)
				if ferr != nil {
					return ferr
				}
				defer f.Close()
				m, ierr := store.ImportArchive(f)
				if ierr != nil {
					return ierr
				}
				fmt.Printf("✅ Imported %q with %d items (ID: %s)\n", m.Name, m.ItemCount, m.ID)
				return nil
			}
			m, err := store.Import(src)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Imported %q with %d items (ID: %s)\n", m.Name, m.ItemCount, m.ID)
			return nil
		})
	},
}

var catalogGCCmd = &cobra.Command{
	Use:   "gc <catalog_id>",
	Short: "Delete signature files no item refers to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalogs(func(store *catalog.Store) error {
			n, err := store.CollectGarbage(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("🧹 Removed %d orphaned signature(s)\n", n)
			return nil
		})
	},
}

func init() {
	catalogCreateCmd.Flags().String("description", "", "catalog description")

	f := catalogAddCmd.Flags()
	f.String("title", "", "item title (default: from tags or file name)")
	f.String("artist", "", "item artist (default: from tags)")
	f.StringSlice("genre", nil, "genre, repeatable")
	f.String("artwork", "", "artwork URL")
	f.StringToString("prop", nil, "custom property key=value, repeatable")
	f.Duration("start", 0, "start of the matching range within the track")
	f.Duration("end", 0, "end of the matching range within the track")

	catalogCmd.AddCommand(catalogCreateCmd, catalogListCmd, catalogShowCmd, catalogAddCmd,
		catalogRemoveCmd, catalogDeleteCmd, catalogExportCmd, catalogImportCmd, catalogGCCmd)
	rootCmd.AddCommand(catalogCmd)
}

// withCatalogs opens only the catalog store; these commands never need the
// databases.
func withCatalogs(fn func(*catalog.Store) error) error {
	store, err := catalog.Open(filepath.Join(viper.GetString("data-dir"), "catalogs"),
		catalog.WithLogger(logger.GetLogger()))
	if err != nil {
		return err
	}
	return fn(store)
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	title, _ := f.GetString("title")
	artist, _ := f.GetString("artist")
	genres, _ := f.GetStringSlice("genre")
	artwork, _ := f.GetString("artwork")
	props, _ := f.GetStringToString("prop")
	start, _ := f.GetDuration("start")
	end, _ := f.GetDuration("end")

	if end > 0 && end <= start {
		return fmt.Errorf("--end must be after --start")
	}
	if start > 0 || end > 0 {
		if props == nil {
			props = map[string]string{}
		}
		props["rangeStart"] = strconv.FormatFloat(start.Seconds(), 'f', -1, 64)
		props["rangeEnd"] = strconv.FormatFloat(end.Seconds(), 'f', -1, 64)
	}

	id, files := args[0], args[1:]
	if len(files) > 1 && title != "" {
		return fmt.Errorf("--title applies to a single file")
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Catalogs().Get(id); err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Fingerprinting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)

	ctx := context.Background()
	var added, failed int
	for _, path := range files {
		entry, err := app.AddCatalogItem(ctx, id, path, catalog.ItemInput{
			Title:            title,
			Artist:           artist,
			Genres:           genres,
			ArtworkURL:       artwork,
			CustomProperties: props,
		})
		bar.Add(1)
		if err != nil {
			failed++
			logger.Errorf("Failed to add %s: %v", path, err)
			continue
		}
		added++
		logger.Infof("Added %q (ID: %s)", entry.Title, entry.ID)
	}
	bar.Finish()

	fmt.Printf("✅ Added %d item(s)", added)
	if failed > 0 {
		fmt.Printf(", ❌ %d failed", failed)
	}
	fmt.Println()
	if added == 0 {
		return fmt.Errorf("no items added")
	}
	return nil
}

func isArchive(path string) bool {
	return filepath.Ext(path) == ".xz"
}

func formatSeconds(sec float64) string {
	return (time.Duration(sec*1000) * time.Millisecond).Round(time.Second).String()
}
