package console

import (
	"bufio"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"
)

const helpText = `commands:
  /start   start the realtime session
  /stop    stop the realtime session
  /voice   stream microphone audio to the broker
  /mute    stop streaming microphone audio
  /events  show the session event log
  /quit    leave
anything else is sent as a chat message
`

// Run reads commands and chat input line by line until /quit, end of input
// or ctx is done.
func (s *Screen) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	s.printf("%s", helpText)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := s.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

func (s *Screen) handleLine(ctx context.Context, line string) (quit bool) {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/help":
		s.printf("%s", helpText)
	case "/start":
		go func() {
			if err := s.StartSession(ctx); err != nil {
				s.printf("! session failed: %v\n", err)
			}
		}()
	case "/stop":
		s.StopSession()
	case "/voice":
		if err := s.StartVoice(ctx); err != nil {
			s.printf("! voice failed: %v\n", err)
			return false
		}
		s.printf("* recording\n")
	case "/mute":
		s.StopVoice()
		s.printf("* muted\n")
	case "/events":
		s.RenderEvents()
	default:
		s.SetInput(line)
		s.Submit()
	}
	s.logger.Debug("Handled console input", zap.Int("length", len(line)))
	return false
}
