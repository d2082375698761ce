package speaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned when no speech command is known for
// the platform and none is configured.
var ErrUnsupportedPlatform = errors.New("no speech command for platform")

// windowsSpeechScript reads the text from stdin so that it never becomes
// part of the script.
const windowsSpeechScript = "Add-Type -AssemblyName System.Speech; " +
	"(New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak([Console]::In.ReadToEnd())"

// Synthesizer turns text into audible speech.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Command is a single invocation of a speech program.
type Command struct {
	Name  string
	Args  []string
	Stdin string
}

// String renders the command for logs, without the text.
func (c Command) String() string {
	return c.Name
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, cmd Command) ([]byte, error)

// ExecRunner runs cmd as a child process.
func ExecRunner(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	err := c.Run()
	return out.Bytes(), err
}

// CommandSynthesizer speaks through an external program such as say or
// espeak. Platform defaults read the text from stdin; an override receives
// it as its last argument. No shell is involved.
type CommandSynthesizer struct {
	build  func(text string) Command
	runner Runner
}

// SynthOption configures a CommandSynthesizer.
type SynthOption func(*CommandSynthesizer)

// WithRunner replaces the process runner.
func WithRunner(runner Runner) SynthOption {
	return func(s *CommandSynthesizer) {
		s.runner = runner
	}
}

// NewCommandSynthesizer returns a synthesizer for goos. A non-empty
// override is split on whitespace and used instead of the platform
// default, with the text appended as the final argument.
func NewCommandSynthesizer(override, goos string, opts ...SynthOption) (*CommandSynthesizer, error) {
	build, err := commandBuilder(override, goos)
	if err != nil {
		return nil, err
	}

	s := &CommandSynthesizer{build: build, runner: ExecRunner}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewDefaultSynthesizer returns a synthesizer for the running platform.
func NewDefaultSynthesizer(override string, opts ...SynthOption) (*CommandSynthesizer, error) {
	return NewCommandSynthesizer(override, runtime.GOOS, opts...)
}

func commandBuilder(override, goos string) (func(string) Command, error) {
	if fields := strings.Fields(override); len(fields) > 0 {
		return func(text string) Command {
			args := append(append([]string(nil), fields[1:]...), text)
			return Command{Name: fields[0], Args: args}
		}, nil
	}

	switch goos {
	case "darwin":
		return func(text string) Command {
			return Command{Name: "say", Args: []string{"-f", "-"}, Stdin: text}
		}, nil
	case "linux":
		return func(text string) Command {
			return Command{Name: "espeak", Args: []string{"--stdin"}, Stdin: text}
		}, nil
	case "windows":
		return func(text string) Command {
			return Command{
				Name:  "powershell",
				Args:  []string{"-NoProfile", "-NonInteractive", "-Command", windowsSpeechScript},
				Stdin: text,
			}
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// Program returns the name of the program the synthesizer runs.
func (s *CommandSynthesizer) Program() string {
	return s.build("").Name
}

// CheckAvailable reports whether the speech program is on PATH.
func (s *CommandSynthesizer) CheckAvailable() error {
	_, err := exec.LookPath(s.Program())
	return err
}

// Speak runs the speech program for text and waits for it to finish.
func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	cmd := s.build(text)
	out, err := s.runner(ctx, cmd)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", cmd, err, msg)
		}
		return fmt.Errorf("%s failed: %w", cmd, err)
	}
	return nil
}
