package playback

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hgdev/sonos-bridge/internal/device"
)

// TTSOptions controls one spoken announcement.
type TTSOptions struct {
	Unmute   bool
	Volume   int
	Language string
}

// ttsProgram runs the external speech generator. It receives the language
// and text as arguments and prints the generated file's name, relative to
// the temp directory, on stdout.
type ttsProgram struct {
	path string
}

// PlayTTS turns text into speech with the configured external program and
// announces it on the peer.
func (o *Orchestrator) PlayTTS(ctx context.Context, peer *device.Peer, program, text string, opts TTSOptions) error {
	if text == "" {
		return nil
	}
	if program == "" {
		return fmt.Errorf("no TTS program configured")
	}

	lang := opts.Language
	if !isAlphanumeric(lang) {
		o.logger.Printf("PLAY: TTS language %q is not alphanumeric, using en", lang)
		lang = "en"
	}

	filename, err := ttsProgram{path: program}.generate(ctx, lang, text)
	if err != nil {
		return err
	}
	return o.PlayLocalFile(ctx, peer, filename, Options{
		Now:    true,
		Unmute: opts.Unmute,
		Volume: opts.Volume,
	})
}

func (t ttsProgram) generate(ctx context.Context, language, text string) (string, error) {
	text = strings.ReplaceAll(text, `"`, "")
	out, err := exec.CommandContext(ctx, t.path, language, text).Output()
	if err != nil {
		return "", fmt.Errorf("tts program %s: %w", t.path, err)
	}
	filename := strings.TrimSpace(string(out))
	if filename == "" {
		return "", fmt.Errorf("tts program %s produced no filename", t.path)
	}
	return filepath.Base(filename), nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}
