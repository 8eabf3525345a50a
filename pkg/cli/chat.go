package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/crisisops/pkg/model"
	"github.com/m-mizutani/crisisops/pkg/usecase/chat"
	"github.com/m-mizutani/crisisops/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func chatCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg           config
		archiveBucket string
		resumeID      string
		showContext   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket to archive transcripts in",
			Sources:     cli.EnvVars("CRISISOPS_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
		},
		&cli.StringFlag{
			Name:        "resume",
			Usage:       "Session ID of an archived transcript to continue",
			Destination: &resumeID,
		},
		&cli.BoolFlag{
			Name:        "show-context",
			Usage:       "Print the memories and image used for each answer",
			Sources:     cli.EnvVars("CRISISOPS_SHOW_CONTEXT"),
			Destination: &showContext,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, embeddingFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive disaster response chat",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logCfg.setup(ctx)

			deps, err := cfg.newClients(ctx, true)
			if err != nil {
				return err
			}
			defer closeStore(ctx, deps.store)

			input := chat.NewInput{
				Store:         deps.store,
				TextEmbedder:  deps.textEmbedder,
				ImageEmbedder: deps.imageEmbedder,
				Gemini:        deps.gemini,
			}
			if archiveBucket != "" {
				storage, err := cfg.newStorage(ctx, archiveBucket)
				if err != nil {
					return err
				}
				input.Storage = storage
			}
			if resumeID != "" {
				id := model.SessionID(resumeID)
				input.SessionID = &id
			}

			session, err := chat.New(ctx, input)
			if err != nil {
				return goerr.Wrap(err, "failed to create chat session")
			}

			repl := &chatREPL{
				session:     session,
				w:           c.Root().Writer,
				showContext: showContext,
			}
			return repl.run(ctx)
		},
	}
}

type chatREPL struct {
	session     *chat.Session
	w           io.Writer
	showContext bool
}

func (r *chatREPL) run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "crisis> ",
		HistoryFile:     filepath.Join(os.TempDir(), "crisisops_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize terminal")
	}
	defer rl.Close()

	fmt.Fprintf(r.w, "Crisis Intelligence session %s started.\n", r.session.ID())
	fmt.Fprintf(r.w, "Commands: /new (start new scenario), /history, /exit\n\n")
	if entries := r.session.Transcript(); len(entries) > 0 {
		r.printHistory(entries)
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to read input")
		}

		message := strings.TrimSpace(line)
		switch message {
		case "":
			continue
		case "/exit", "/quit":
			return r.finish(ctx)
		case "/history":
			r.printHistory(r.session.Transcript())
			continue
		case "/new":
			if err := r.session.Reset(ctx); err != nil {
				fmt.Fprintf(r.w, "Error clearing memory: %v\n\n", err)
			} else {
				fmt.Fprintf(r.w, "Short-term memory wiped. Base reports and images are kept.\n\n")
			}
			continue
		}

		r.send(ctx, message)
	}

	return r.finish(ctx)
}

func (r *chatREPL) send(ctx context.Context, message string) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	sp.Suffix = " searching memory and evidence..."
	sp.Start()
	entry, err := r.session.Send(ctx, message)
	sp.Stop()

	switch {
	case err == nil:
	case errors.Is(err, chat.ErrPersistTurn) && entry != nil:
		logging.From(ctx).Warn("answer was not saved to memory", "error", err)
	default:
		fmt.Fprintf(r.w, "Error: %v\n\n", err)
		return
	}

	r.printEntry(entry)
}

func (r *chatREPL) printEntry(entry *model.TranscriptEntry) {
	fmt.Fprintf(r.w, "\n%s\n", entry.Content)

	if entry.Image != "" {
		fmt.Fprintf(r.w, "\n[Retrieved Evidence (Score: %.2f)] %s\n", entry.Score, entry.Image)
		if entry.Reasoning != "" {
			fmt.Fprintf(r.w, "Reasoning: Found image matching description '%s'\n", entry.Reasoning)
		}
	} else if entry.ImageSuppressed {
		fmt.Fprintf(r.w, "\n(Image display suppressed by user request.)\n")
	}

	if r.showContext && entry.Role == model.RoleAssistant {
		fmt.Fprintf(r.w, "\nText memories used:\n")
		if len(entry.Sources) == 0 {
			fmt.Fprintf(r.w, "  No relevant past memories found.\n")
		}
		for _, src := range entry.Sources {
			fmt.Fprintf(r.w, "  - %s\n", src)
		}
	}
	fmt.Fprintln(r.w)
}

func (r *chatREPL) printHistory(entries []*model.TranscriptEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(r.w, "(no messages yet)\n\n")
		return
	}
	for _, entry := range entries {
		if entry.Role == model.RoleUser {
			fmt.Fprintf(r.w, "> %s\n", entry.Content)
			continue
		}
		r.printEntry(entry)
	}
}

func (r *chatREPL) finish(ctx context.Context) error {
	if err := r.session.Archive(ctx); err != nil {
		return err
	}
	fmt.Fprintf(r.w, "\nChat session %s completed\n", r.session.ID())
	return nil
}
