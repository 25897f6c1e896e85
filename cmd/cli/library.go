package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Manage the reference library used when no catalog is preferred",
}

var libraryAddCmd = &cobra.Command{
	Use:   "add <audio_file>",
	Short: "Fingerprint a song into the reference library",
	Args:  cobra.ExactArgs(1),
	RunE:  runLibraryAdd,
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reference songs",
	Args:  cobra.NoArgs,
	RunE:  runLibraryList,
}

var libraryDeleteCmd = &cobra.Command{
	Use:   "delete <song_id>",
	Short: "Delete a reference song and its fingerprints",
	Args:  cobra.ExactArgs(1),
	RunE:  runLibraryDelete,
}

func init() {
	libraryAddCmd.Flags().String("title", "", "song title (required)")
	libraryAddCmd.Flags().String("artist", "", "artist name (required)")
	libraryAddCmd.Flags().String("youtube", "", "YouTube ID (optional)")
	libraryAddCmd.MarkFlagRequired("title")
	libraryAddCmd.MarkFlagRequired("artist")

	libraryCmd.AddCommand(libraryAddCmd, libraryListCmd, libraryDeleteCmd)
	rootCmd.AddCommand(libraryCmd)
}

func runLibraryAdd(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	artist, _ := cmd.Flags().GetString("artist")
	youtube, _ := cmd.Flags().GetString("youtube")

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Println("🎵 Processing audio file...")
	fmt.Println("   This may take a few moments for large files")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	songID, err := app.AddReference(ctx, args[0], title, artist, youtube)
	if err != nil {
		return fmt.Errorf("failed to add song: %w", err)
	}

	fmt.Println("\n✅ Successfully added song to the library!")
	fmt.Printf("   ID:      %s\n", songID)
	fmt.Printf("   Title:   %s\n", title)
	fmt.Printf("   Artist:  %s\n", artist)
	if youtube != "" {
		fmt.Printf("   YouTube: %s\n", youtube)
	}
	return nil
}

func runLibraryList(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	songs, err := app.Library().ListSongs()
	if err != nil {
		return fmt.Errorf("failed to list songs: %w", err)
	}
	if len(songs) == 0 {
		fmt.Println("\n📭 No songs in the library")
		return nil
	}

	fmt.Printf("\n📚 Found %d song(s):\n\n", len(songs))
	for i, song := range songs {
		fmt.Printf("%d. \"%s\" by %s (ID: %s)\n", i+1, song.Title, song.Artist, song.ID)
		if song.YouTubeID != "" {
			fmt.Printf("   YouTube: https://youtube.com/watch?v=%s\n", song.YouTubeID)
		}
		if song.DurationMs > 0 {
			duration := song.DurationMs / 1000
			fmt.Printf("   Duration: %d:%02d\n", duration/60, duration%60)
		}
	}
	return nil
}

func runLibraryDelete(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	song, err := app.Library().GetSong(args[0])
	if err != nil {
		return err
	}
	if err := app.Library().DeleteSong(song.ID); err != nil {
		return fmt.Errorf("failed to delete song: %w", err)
	}

	fmt.Printf("\n✅ Successfully deleted song:\n")
	fmt.Printf("   ID:     %s\n", song.ID)
	fmt.Printf("   Title:  %s\n", song.Title)
	fmt.Printf("   Artist: %s\n", song.Artist)
	return nil
}
