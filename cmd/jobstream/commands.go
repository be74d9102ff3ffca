package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/openclaude/jobstream/internal/config"
	"github.com/openclaude/jobstream/internal/sse"
	"github.com/openclaude/jobstream/internal/transcript"
	"github.com/openclaude/jobstream/internal/transport"
)

// chatRequest is the body posted to the chat endpoint.
type chatRequest struct {
	// Message is the user prompt.
	Message string `json:"message"`
	// SessionID continues a backend conversation when set.
	SessionID string `json:"session_id,omitempty"`
}

// watchCommand follows a job's console stream.
func watchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's console output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			jobID := args[0]
			return a.execute(cmd.Context(), runSpec{
				Mode:   sse.ModeConsole,
				Target: jobID,
				Open:   a.newClient(cfg).Opener(transport.Request{Path: cfg.JobPath(jobID)}),
				Record: true,
			}, settings)
		},
	}
}

// chatCommand sends a prompt to the agent and follows its reply.
func chatCommand(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message to the agent and stream the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readMessage(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), runSpec{
				Mode:   sse.ModeChat,
				Target: cfg.ChatPath,
				Open: a.newClient(cfg).Opener(transport.Request{
					Path: cfg.ChatPath,
					Body: chatRequest{Message: message, SessionID: sessionID},
				}),
				Record: true,
			}, settings)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Continue a backend conversation")
	return cmd
}

// readMessage joins args or, without args, reads the message from input.
func readMessage(input io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	raw, err := io.ReadAll(input)
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	message := strings.TrimSpace(string(raw))
	if message == "" {
		return "", errors.New("message is required")
	}
	return message, nil
}

// replayCommand re-feeds a recorded run or an SSE capture file.
func replayCommand(a *app) *cobra.Command {
	var modeName string
	cmd := &cobra.Command{
		Use:   "replay [run-id|file]",
		Short: "Replay a recorded run or a raw SSE capture",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			spec, err := a.replaySpec(args, modeName)
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), spec, settings)
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "", "Stream mode (console|chat); defaults to the recorded mode")
	return cmd
}

// replaySpec resolves the replay source.
func (a *app) replaySpec(args []string, modeName string) (runSpec, error) {
	store, err := a.store()
	if err != nil {
		return runSpec{}, err
	}

	source := ""
	if len(args) > 0 {
		source = args[0]
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return runSpec{}, fmt.Errorf("get cwd: %w", err)
		}
		source, err = store.LoadLastRun(transcript.ProjectHash(cwd))
		if err != nil {
			return runSpec{}, errors.New("no previous run recorded for this project")
		}
	}

	var run *transcript.Run
	if info, statErr := os.Stat(source); statErr == nil && !info.IsDir() {
		if filepath.Ext(source) != ".jsonl" {
			mode, err := replayMode(modeName, "")
			if err != nil {
				return runSpec{}, err
			}
			return runSpec{Mode: mode, Target: source, Open: transport.FileOpener(source)}, nil
		}
		run, err = transcript.LoadFile(source)
	} else {
		run, err = store.Load(source)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return runSpec{}, fmt.Errorf("run %s not found", source)
		}
		return runSpec{}, fmt.Errorf("load run: %w", err)
	}

	recorded := ""
	if run.Header != nil {
		recorded = run.Header.Mode
	}
	mode, err := replayMode(modeName, recorded)
	if err != nil {
		return runSpec{}, err
	}
	return runSpec{
		Mode:   mode,
		Target: source,
		Open:   transport.ReaderOpener(strings.NewReader(strings.Join(run.Chunks, ""))),
	}, nil
}

// replayMode picks the flag, then the recorded mode, then console.
func replayMode(flagValue string, recorded string) (sse.Mode, error) {
	switch {
	case flagValue != "":
		return sse.ParseMode(flagValue)
	case recorded != "":
		return sse.ParseMode(recorded)
	default:
		return sse.ModeConsole, nil
	}
}

// runsCommand lists recorded runs.
func runsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			settings, err := a.loadSettings()
			if err != nil {
				return err
			}
			if a.outputFormat(settings) == config.OutputStreamJSON {
				encoder := json.NewEncoder(a.stdout)
				for _, run := range runs {
					if err := encoder.Encode(run); err != nil {
						return fmt.Errorf("write run: %w", err)
					}
				}
				return nil
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "No recorded runs.")
				return nil
			}
			fmt.Fprintln(a.stdout, runsTable(runs))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

// runsTable renders run summaries.
func runsTable(runs []transcript.Summary) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		outcome := run.Outcome
		if outcome == "" {
			outcome = "-"
		}
		rows = append(rows, []string{run.RunID, run.Mode, outcome, run.Target, run.ModTime.Local().Format(time.DateTime)})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN ID", "MODE", "OUTCOME", "TARGET", "UPDATED").
		Rows(rows...).
		String()
}

// doctorCommand validates configuration, permissions, and settings.
func doctorCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check jobstream configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath()
			if err := config.CheckPermissions(path); err != nil {
				if errors.Is(err, config.ErrConfigMissing) {
					return fmt.Errorf("config missing at %s", path)
				}
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Fprintf(a.stdout, "OK: config %s (%s)\n", path, cfg.APIBaseURL)
			if _, err := a.loadSettings(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "OK: settings")
			return nil
		},
	}
}
