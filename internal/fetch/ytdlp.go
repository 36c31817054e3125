package fetch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// TitleMarker prefixes the stdout line carrying the resolved title.
const TitleMarker = "title-current:"

// Downloader turns a reference into an audio file at outputPath. Success is
// judged by the caller from the file's existence, not from err.
type Downloader interface {
	Download(ctx context.Context, reference, outputPath string) (title string, err error)
}

type YtDlp struct {
	Path          string
	FFmpegPath    string
	MaxSizeMB     int
	Format        string
	AudioFormat   string
	ExtractorArgs string
}

func (y *YtDlp) command(outputPath string) *ytdlp.Command {
	cmd := ytdlp.New().
		NoPlaylist().
		ExtractAudio().
		Format(y.Format).
		AudioFormat(y.AudioFormat).
		MaxFileSize(fmt.Sprintf("%dM", y.MaxSizeMB)).
		Print(TitleMarker + "%(title)s").
		NoSimulate().
		Output(outputPath)
	if y.Path != "" {
		cmd.SetExecutable(y.Path)
	}
	if y.ExtractorArgs != "" {
		cmd.ExtractorArgs(y.ExtractorArgs)
	}
	if y.FFmpegPath != "" {
		cmd.FFmpegLocation(y.FFmpegPath)
	}
	return cmd
}

// Download runs yt-dlp to completion. Stdout is logged and scanned for the
// title line; stderr goes to the error log. Cancelling ctx kills the process.
func (y *YtDlp) Download(ctx context.Context, reference, outputPath string) (string, error) {
	res, err := y.command(outputPath).Run(ctx, reference)

	title := ""
	if res != nil {
		for _, l := range res.OutputLogs {
			if l.Line == "" {
				continue
			}
			if l.Pipe == "stderr" {
				log.Errorf("yt-dlp: %s", l.Line)
				continue
			}
			log.Infof("yt-dlp: %s", l.Line)
			if t, ok := ParseTitle(l.Line); ok {
				title = t
			}
		}
	}
	if err != nil {
		return title, fmt.Errorf("yt-dlp: %w", err)
	}
	return title, nil
}

// ParseTitle extracts the title from a marker line.
func ParseTitle(line string) (string, bool) {
	if !strings.HasPrefix(line, TitleMarker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, TitleMarker)), true
}

// CheckTools logs an error for each external tool that can't be found. The
// peer still starts; downloads will just fail until the tool is installed.
func CheckTools(paths ...string) (missing []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := exec.LookPath(p); err != nil {
			log.Errorf("%s not found: %v", p, err)
			missing = append(missing, p)
		}
	}
	return missing
}
