package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/soundmatch/pkg/utils"
)

const (
	defaultConvertRate    = 11025
	defaultConvertTimeout = time.Minute
)

// ErrFFmpegMissing is returned when ffmpeg is not on PATH.
var ErrFFmpegMissing = errors.New("ffmpeg not found in PATH")

type ConvertWAVConfig struct {
	SampleRate int           // output rate, 11025 when zero
	Timeout    time.Duration // applied only when ctx has no deadline
}

func (c ConvertWAVConfig) args(in, out string) []string {
	return []string{
		"-y", "-v", "error",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(c.SampleRate),
		"-c:a", "pcm_s16le",
		out,
	}
}

// ConvertToMonoWAV transcodes anything ffmpeg understands into a mono 16-bit
// WAV inside outputDir and returns its path. Each call gets its own output
// file so concurrent conversions of one source never collide.
func ConvertToMonoWAV(ctx context.Context, inputPath, outputDir string, cfg ConvertWAVConfig) (string, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultConvertRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConvertTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", ErrFFmpegMissing
	}
	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(outputDir, fmt.Sprintf("%s.%s.wav", stem, utils.GenerateUUID()[:8]))
	partial := out + ".part.wav"

	stderr, err := exec.CommandContext(ctx, bin, cfg.args(inputPath, partial)...).CombinedOutput()
	if err != nil {
		_ = utils.DeleteFile(partial)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg: %v: %s", err, strings.TrimSpace(string(stderr)))
	}
	if err := utils.MoveFile(partial, out); err != nil {
		_ = utils.DeleteFile(partial)
		return "", err
	}
	return out, nil
}
