package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/soundmatch/pkg/models"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/capture"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/session"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen to the microphone and identify what is playing",
	Args:  cobra.NoArgs,
	RunE:  runListen,
}

var recognizeCmd = &cobra.Command{
	Use:   "recognize <audio_file>",
	Short: "Identify an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecognize,
}

func init() {
	listenCmd.Flags().Duration("duration", 20*time.Second, "give up after this long")
	listenCmd.Flags().Duration("interval", session.DefaultMatchInterval, "audio to accumulate between match attempts")
	listenCmd.Flags().Bool("continuous", true, "keep listening after an attempt without candidates")
	listenCmd.Flags().Int("device-rate", capture.DefaultSampleRate, "microphone sample rate in Hz")

	recognizeCmd.Flags().Duration("timeout", 2*time.Minute, "overall time limit")
	recognizeCmd.Flags().String("save-signature", "", "write the generated signature to this file")

	rootCmd.AddCommand(listenCmd, recognizeCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	interval, _ := cmd.Flags().GetDuration("interval")
	continuous, _ := cmd.Flags().GetBool("continuous")
	deviceRate, _ := cmd.Flags().GetInt("device-rate")

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	mic := capture.NewMicrophone(capture.WithSampleRate(deviceRate))
	s := app.NewSession(
		session.WithDevice(mic),
		session.WithContinuousMatching(continuous),
		session.WithMatchInterval(interval),
	)
	defer s.Close()

	unsubscribe := s.Subscribe(func(st session.Status) {
		switch st.State {
		case session.Listening:
			fmt.Println("🎤 Listening...")
		case session.Matching:
			fmt.Println("🔍 Matching...")
		}
	})
	defer unsubscribe()

	if err := s.StartListening(ctx); err != nil {
		if errors.Is(err, models.ErrPermissionDenied) {
			return fmt.Errorf("microphone access was denied; grant permission and try again: %w", err)
		}
		return err
	}

	st, err := s.Await(context.Background())
	if err != nil {
		return err
	}
	if d := mic.Dropped(); d > 0 {
		fmt.Printf("⚠️  %d audio buffers were dropped\n", d)
	}
	return reportStatus(st)
}

func runRecognize(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	sigOut, _ := cmd.Flags().GetString("save-signature")

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s := app.NewSession()
	defer s.Close()

	fmt.Println("🔍 Analyzing audio file...")
	sig, err := s.RecognizeFromFile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to fingerprint %s: %w", args[0], err)
	}

	if sigOut != "" {
		if err := writeSignature(sigOut, sig); err != nil {
			return err
		}
		fmt.Printf("💾 Signature written to %s\n", sigOut)
	}

	st, err := s.Await(ctx)
	if err != nil {
		return err
	}
	return reportStatus(st)
}

func writeSignature(path string, sig *fingerprint.Signature) error {
	data, err := sig.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func reportStatus(st session.Status) error {
	switch st.State {
	case session.Matched:
		printResult(*st.Result)
		return nil
	case session.NoMatch:
		fmt.Println("\n❌ No match found")
		return nil
	case session.Error:
		return st.Err
	default:
		return fmt.Errorf("recognition ended in state %s", st.State)
	}
}

func printResult(res models.MatchResult) {
	source := "reference library"
	if res.Source == models.SourceCatalog {
		source = fmt.Sprintf("catalog %q", res.CatalogName)
	}
	fmt.Printf("\n✅ Found %d match(es) in %s!\n\n", len(res.Candidates), source)

	maxDisplay := min(len(res.Candidates), 5)
	for i, c := range res.Candidates[:maxDisplay] {
		fmt.Printf("%d. \"%s\" by %s\n", i+1, c.Title, c.Artist)
		fmt.Printf("   Score: %d | Confidence: %.1f%% | Offset: %s\n",
			c.Score, c.Confidence, time.Duration(c.OffsetMs)*time.Millisecond)
		if len(c.Genres) > 0 {
			fmt.Printf("   Genres: %v\n", c.Genres)
		}
	}
	if len(res.Candidates) > maxDisplay {
		fmt.Printf("... and %d more matches\n", len(res.Candidates)-maxDisplay)
	}
}
