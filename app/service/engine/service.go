package engine

import (
	"bufio"
	"context"
	"critiquebar/app/service/chat"
	"critiquebar/app/service/critique"
	"critiquebar/app/service/queue"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/do"
)

const (
	commandReset = "reset"

	resetPrefix = "/reset"
	imagePrefix = "/image"
)

// Service is the console binding: it reads prompts from the input, runs them
// through the session one at a time and prints replies and critiques.
type Service struct {
	session  *chat.Session
	queueSvc *queue.Service

	in  io.Reader
	out io.Writer
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		session:  do.MustInvoke[*chat.Session](di),
		queueSvc: do.MustInvoke[*queue.Service](di),
		in:       os.Stdin,
		out:      &lockedWriter{w: os.Stdout},
	}, nil
}

// lockedWriter serializes output from the input reader and the prompt loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.w.Write(p)
}

// ReadInput feeds input lines into the prompt queue until the input ends.
// Reset is applied immediately, so it interrupts the turn in flight instead of
// waiting behind it.
func (s *Service) ReadInput(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		prompt, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}

		if prompt.Command == commandReset {
			s.session.Reset(ctx)
			fmt.Fprintln(s.out, "Conversation reset.")
			continue
		}

		if !s.queueSvc.Add(prompt) {
			fmt.Fprintln(s.out, "Busy, prompt dropped.")
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case prompt, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}

			start := time.Now()
			if err := s.process(ctx, prompt); err != nil {
				slog.Warn("Process prompt error", "error", err)
			}

			slog.Debug("Processed prompt",
				"command", prompt.Command,
				"has_image", prompt.ImagePath != "",
				"duration", time.Since(start))
		}
	}
}

func (s *Service) process(ctx context.Context, prompt queue.Prompt) error {
	req := chat.SendRequest{Text: prompt.Text}

	if prompt.ImagePath != "" {
		img, err := loadImage(prompt.ImagePath)
		if err != nil {
			fmt.Fprintln(s.out, chat.Describe(err))
			return fmt.Errorf("could not load image: %w", err)
		}
		req.Image = img
	}

	events, err := s.session.Send(ctx, req)
	if err != nil {
		fmt.Fprintln(s.out, chat.Describe(err))
		return fmt.Errorf("could not send prompt: %w", err)
	}

	for ev := range events {
		switch ev.Type {
		case chat.EventDelta:
			fmt.Fprint(s.out, ev.Text)
		case chat.EventDone:
			fmt.Fprintln(s.out)
			if doc := critique.Parse(ev.Text); !doc.IsEmpty() {
				fmt.Fprint(s.out, Render(doc))
			}
		case chat.EventError:
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, chat.Describe(ev.Err))
			err = ev.Err
		}
	}

	return err
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, chat.WrapError(chat.ErrEncoding, err)
	}
	defer f.Close()

	return chat.DecodeImage(f)
}

// parseLine turns an input line into a prompt. Blank lines are skipped.
func parseLine(line string) (queue.Prompt, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return queue.Prompt{}, false
	}

	if line == resetPrefix {
		return queue.Prompt{Command: commandReset}, true
	}

	if rest, ok := strings.CutPrefix(line, imagePrefix+" "); ok {
		path, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		return queue.Prompt{
			Text:      strings.TrimSpace(text),
			ImagePath: path,
		}, true
	}

	return queue.Prompt{Text: line}, true
}
