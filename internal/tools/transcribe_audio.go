package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// whisperOutput mirrors the subset of whisper-cli's -oj JSON output this
// tool reads: a list of transcribed segments, each carrying its text.
type whisperOutput struct {
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// TranscribeAudioConfig configures the transcribe_audio tool.
type TranscribeAudioConfig struct {
	WhisperBinary string // path to whisper-cli, defaults to "whisper-cli" on PATH
	ModelPath     string // path to a whisper.cpp ggml model file
	Language      string // defaults to "auto"
	Timeout       time.Duration
	WorkDir       string // scratch dir for whisper-cli's -of output base; defaults to os.TempDir()
}

// NewTranscribeAudioTool builds transcribe_audio, a restricted-tier tool
// that shells out to whisper-cli to produce a text transcript of a local
// audio file. Restricted rather than safe because it spawns a subprocess
// and touches the filesystem to read whisper-cli's JSON output file.
func NewTranscribeAudioTool(cfg TranscribeAudioConfig) ToolDef {
	binary := cfg.WhisperBinary
	if binary == "" {
		binary = "whisper-cli"
	}
	lang := cfg.Language
	if lang == "" {
		lang = "auto"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return ToolDef{
		Name:        "transcribe_audio",
		Tier:        TierRestricted,
		Effects:     []Effect{EffectFilesystem, EffectSubprocess},
		Description: "Transcribe a local audio file to text using whisper-cli.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"audioPath": map[string]any{
					"type":        "string",
					"description": "Path to the audio file to transcribe.",
				},
			},
			"required": []string{"audioPath"},
		},
		TimeoutMs: int(timeout / time.Millisecond),
		Execute: func(ctx context.Context, input map[string]any) (*Result, error) {
			audioPath, _ := input["audioPath"].(string)
			if audioPath == "" {
				return ErrorResult("audioPath is required"), nil
			}
			if _, err := os.Stat(audioPath); err != nil {
				return ErrorResult(fmt.Sprintf("cannot read audio file: %v", err)), nil
			}
			if cfg.ModelPath == "" {
				return ErrorResult("transcribe_audio is not configured with a whisper model"), nil
			}

			outBase := filepath.Join(workDir, "transcribe-"+uuid.NewString())
			defer os.Remove(outBase + ".json")

			cmd := exec.CommandContext(ctx, binary,
				"-m", cfg.ModelPath,
				"-f", audioPath,
				"-oj",
				"-of", outBase,
				"-np",
				"-l", lang,
			)
			if out, err := cmd.CombinedOutput(); err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return ErrorResult(fmt.Sprintf("transcription timed out after %s", timeout)), nil
				}
				return ErrorResult(fmt.Sprintf("whisper-cli failed: %v: %s", err, truncateOutput(out, 2000))), nil
			}

			raw, err := os.ReadFile(outBase + ".json")
			if err != nil {
				return ErrorResult(fmt.Sprintf("reading transcription output: %v", err)).WithError(err), err
			}
			var parsed whisperOutput
			if err := json.Unmarshal(raw, &parsed); err != nil {
				return ErrorResult(fmt.Sprintf("parsing transcription output: %v", err)).WithError(err), err
			}

			var sb strings.Builder
			for _, seg := range parsed.Transcription {
				sb.WriteString(strings.TrimSpace(seg.Text))
				sb.WriteString(" ")
			}
			text := strings.TrimSpace(sb.String())
			if text == "" {
				return NewResult("(no speech detected)"), nil
			}
			return NewResult(text), nil
		},
	}
}

func truncateOutput(b []byte, max int) string {
	s := string(b)
	if len(s) > max {
		return s[:max]
	}
	return s
}
