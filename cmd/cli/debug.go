package main

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/himanishpuri/soundmatch/pkg/soundmatch/audio"
	"github.com/himanishpuri/soundmatch/pkg/soundmatch/fingerprint"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Inspect audio and signatures",
}

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram <audio_file> <out.png>",
	Short: "Render a spectrogram image of an audio file",
	Args:  cobra.ExactArgs(2),
	RunE:  runSpectrogram,
}

var peaksCmd = &cobra.Command{
	Use:   "peaks <audio_file>",
	Short: "List the strongest spectral peaks of an audio file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeaks,
}

var signatureInfoCmd = &cobra.Command{
	Use:   "signature-info <file.sig>",
	Short: "Print a summary of a saved signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := readSignature(args[0])
		if err != nil {
			return err
		}
		info, err := fingerprint.Describe(sig)
		if err != nil {
			return err
		}
		fmt.Printf("🧬 %s\n", args[0])
		fmt.Printf("   Duration:      %s\n", info.Duration.Round(time.Millisecond))
		fmt.Printf("   Size:          %s\n", humanize.Bytes(uint64(info.SizeBytes)))
		fmt.Printf("   Peaks:         %d\n", info.Peaks)
		fmt.Printf("   Landmarks:     %d\n", info.Landmarks)
		fmt.Printf("   Unique hashes: %d\n", info.UniqueHashes)
		return nil
	},
}

var signatureCompareCmd = &cobra.Command{
	Use:   "signature-compare <a.sig> <b.sig>",
	Short: "Compare two saved signatures",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := readSignature(args[0])
		if err != nil {
			return err
		}
		b, err := readSignature(args[1])
		if err != nil {
			return err
		}
		c := fingerprint.Compare(a, b)
		fmt.Printf("   Landmarks:     %d vs %d\n", c.LandmarksA, c.LandmarksB)
		fmt.Printf("   Duration:      %s vs %s (same: %t)\n",
			c.DurationA.Round(time.Millisecond), c.DurationB.Round(time.Millisecond), c.SameDuration)
		fmt.Printf("   Shared hashes: %d\n", c.SharedHashes)
		return nil
	},
}

var matchSignatureCmd = &cobra.Command{
	Use:   "match-signature <file.sig>",
	Short: "Match a saved signature without decoding audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig, err := readSignature(args[0])
		if err != nil {
			return err
		}
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		s := app.NewSession()
		defer s.Close()
		if err := s.MatchSignatureDirectly(sig); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		st, err := s.Await(ctx)
		if err != nil {
			return err
		}
		return reportStatus(st)
	},
}

func init() {
	spectrogramCmd.Flags().Int("width", 2048, "image width in pixels")
	spectrogramCmd.Flags().Int("height", 512, "image height in pixels (frequency bins)")
	spectrogramCmd.Flags().Bool("log", false, "log10 magnitude scale")
	peaksCmd.Flags().Int("top", 20, "number of peaks to print")

	debugCmd.AddCommand(spectrogramCmd, peaksCmd, signatureInfoCmd, signatureCompareCmd, matchSignatureCmd)
	rootCmd.AddCommand(debugCmd)
}

func readSignature(path string) (*fingerprint.Signature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fingerprint.UnmarshalSignature(data)
}

// readMono decodes path and mixes it down to one channel.
func readMono(ctx context.Context, path string) ([]float64, int, error) {
	src, err := audio.OpenFile(ctx, path, audio.OpenOptions{
		TempDir:    viper.GetString("temp-dir"),
		SampleRate: viper.GetInt("rate"),
	})
	if err != nil {
		return nil, 0, err
	}
	defer src.Close()

	buf, err := audio.ReadAll(ctx, src)
	if err != nil {
		return nil, 0, err
	}
	samples := audio.MixDown(buf)
	if len(samples) == 0 {
		return nil, 0, fmt.Errorf("no samples in %s", path)
	}
	return samples, buf.Format.SampleRate, nil
}

func runPeaks(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("top")

	samples, rate, err := readMono(context.Background(), args[0])
	if err != nil {
		return err
	}
	if rate != fingerprint.DefaultSampleRate {
		rs, err := audio.NewMonoResampler(rate, fingerprint.DefaultSampleRate)
		if err != nil {
			return err
		}
		if samples, err = rs.Process(samples); err != nil {
			return fmt.Errorf("resampling %s: %w", args[0], err)
		}
		rate = rs.OutputRate()
	}

	peaks, err := fingerprint.StrongestPeaks(samples, rate)
	if err != nil {
		return err
	}
	fmt.Printf("🎚️  %s: %d peaks\n", args[0], len(peaks))
	for i, p := range peaks[:max(0, min(top, len(peaks)))] {
		fmt.Printf("   %3d. %8.3fs %9.1f Hz %7.1f dB\n", i+1, p.Time, p.Freq, p.MagDB)
	}
	return nil
}

func runSpectrogram(cmd *cobra.Command, args []string) error {
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	logScale, _ := cmd.Flags().GetBool("log")

	samples, rate, err := readMono(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Read %d samples at %d Hz\n", len(samples), rate)

	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude.
	spectrogram.Drawfft(img, samples, uint32(rate), uint32(height), false, false, true, logScale)

	if err := spectrogram.SavePng(img, args[1]); err != nil {
		return fmt.Errorf("saving %s: %w", args[1], err)
	}
	fmt.Printf("Saved spectrogram to %s\n", args[1])
	return nil
}
