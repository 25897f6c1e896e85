package audio

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
)

const probeTimeout = 5 * time.Second

var errNoAudioStream = errors.New("no audio stream")

// Metadata is what can be learned about a file without decoding it.
type Metadata struct {
	Filename   string
	Title      string
	Artist     string
	Album      string
	Genres     []string
	Duration   time.Duration
	SampleRate int
	Channels   int
	Format     string
}

// merge fills the empty fields of m from o.
func (m *Metadata) merge(o *Metadata) {
	if m.Title == "" {
		m.Title = o.Title
	}
	if m.Artist == "" {
		m.Artist = o.Artist
	}
	if m.Album == "" {
		m.Album = o.Album
	}
	if len(m.Genres) == 0 {
		m.Genres = o.Genres
	}
	if m.Duration == 0 {
		m.Duration = o.Duration
	}
	if m.SampleRate == 0 {
		m.SampleRate, m.Channels = o.SampleRate, o.Channels
	}
	if m.Format == "" {
		m.Format = o.Format
	}
}

type probeResult struct {
	Format struct {
		Duration string            `json:"duration"`
		Name     string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe asks ffprobe for container and stream information.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", path,
	).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, err
	}

	meta := &Metadata{Filename: filepath.Base(path), Format: res.Format.Name}
	found := false
	for _, s := range res.Streams {
		if s.CodecType != "audio" {
			continue
		}
		meta.SampleRate, _ = strconv.Atoi(s.SampleRate)
		meta.Channels = s.Channels
		found = true
		break
	}
	if !found {
		return nil, errNoAudioStream
	}
	if secs, err := strconv.ParseFloat(res.Format.Duration, 64); err == nil {
		meta.Duration = time.Duration(secs * float64(time.Second))
	}

	// ffprobe tag keys vary in case between containers.
	tags := make(map[string]string, len(res.Format.Tags))
	for k, v := range res.Format.Tags {
		tags[strings.ToLower(k)] = v
	}
	meta.Title = tags["title"]
	meta.Artist = tags["artist"]
	meta.Album = tags["album"]
	meta.Genres = splitGenres(tags["genre"])
	return meta, nil
}

// ReadTags reads embedded ID3/MP4/FLAC/Vorbis tags without shelling out.
func ReadTags(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Filename: filepath.Base(path),
		Title:    m.Title(),
		Artist:   m.Artist(),
		Album:    m.Album(),
		Genres:   splitGenres(m.Genre()),
		Format:   string(m.FileType()),
	}, nil
}

// DescribeFile never fails: embedded tags win, ffprobe fills the gaps and
// the file name stands in for a missing title.
func DescribeFile(ctx context.Context, path string) *Metadata {
	meta := &Metadata{Filename: filepath.Base(path)}
	if tagged, err := ReadTags(path); err == nil {
		meta = tagged
	}
	if meta.Title == "" || meta.Artist == "" || meta.Duration == 0 {
		if probed, err := Probe(ctx, path); err == nil {
			meta.merge(probed)
		}
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(meta.Filename, filepath.Ext(meta.Filename))
	}
	return meta
}

func splitGenres(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' || r == '/' })
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
