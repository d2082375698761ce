package speaker

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommandSynthesizer_Commands(t *testing.T) {
	tests := []struct {
		name     string
		override string
		goos     string
		want     Command
	}{
		{
			name: "darwin",
			goos: "darwin",
			want: Command{Name: "say", Args: []string{"-f", "-"}, Stdin: "hi 'there'"},
		},
		{
			name: "linux",
			goos: "linux",
			want: Command{Name: "espeak", Args: []string{"--stdin"}, Stdin: "hi 'there'"},
		},
		{
			name: "windows",
			goos: "windows",
			want: Command{
				Name:  "powershell",
				Args:  []string{"-NoProfile", "-NonInteractive", "-Command", windowsSpeechScript},
				Stdin: "hi 'there'",
			},
		},
		{
			name:     "override",
			override: "espeak-ng -v en-us",
			goos:     "plan9",
			want:     Command{Name: "espeak-ng", Args: []string{"-v", "en-us", "hi 'there'"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Command
			synth, err := NewCommandSynthesizer(tt.override, tt.goos, WithRunner(
				func(_ context.Context, cmd Command) ([]byte, error) {
					got = cmd
					return nil, nil
				}))
			require.NoError(t, err)

			require.NoError(t, synth.Speak(context.Background(), "hi 'there'"))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Name, synth.Program())
		})
	}
}

func TestNewCommandSynthesizer_UnsupportedPlatform(t *testing.T) {
	_, err := NewCommandSynthesizer("", "plan9")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = NewCommandSynthesizer("   ", "plan9")
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestCommandSynthesizer_SpeakError(t *testing.T) {
	runErr := errors.New("exit status 1")

	synth, err := NewCommandSynthesizer("", "linux", WithRunner(
		func(context.Context, Command) ([]byte, error) {
			return []byte("  no audio device\n"), runErr
		}))
	require.NoError(t, err)

	err = synth.Speak(context.Background(), "hello")
	require.ErrorIs(t, err, runErr)
	assert.Contains(t, err.Error(), "espeak failed")
	assert.Contains(t, err.Error(), "no audio device")
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	out, err := ExecRunner(context.Background(), Command{Name: "cat", Stdin: "spoken"})
	require.NoError(t, err)
	assert.Equal(t, "spoken", string(out))
}

func TestCheckAvailable(t *testing.T) {
	synth, err := NewCommandSynthesizer("definitely-not-a-speech-program", "linux")
	require.NoError(t, err)
	assert.Error(t, synth.CheckAvailable())
}
