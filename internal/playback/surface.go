package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// URLPlaceholder is replaced with the item locator in player commands
const URLPlaceholder = "{url}"

// DefaultCommand plays one clip and exits when it ends
var DefaultCommand = []string{"ffplay", "-autoexit", "-loglevel", "quiet", URLPlaceholder}

// ResolveLocator checks that a locator can be handed to a player.
// URLs must be http, https or file; anything else is treated as a local path
// and must exist.
func ResolveLocator(locator string) (string, error) {
	if strings.TrimSpace(locator) == "" {
		return "", fmt.Errorf("%w: empty locator", ErrPlaybackFailure)
	}

	if u, err := url.Parse(locator); err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
		switch u.Scheme {
		case "http", "https":
			if u.Host == "" {
				return "", fmt.Errorf("%w: locator %q has no host", ErrPlaybackFailure, locator)
			}
			return locator, nil
		case "file":
			locator = u.Path
		default:
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrPlaybackFailure, u.Scheme)
		}
	}

	if _, err := os.Stat(locator); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPlaybackFailure, err)
	}
	return locator, nil
}

// ExecSurface plays each item with an external player process
type ExecSurface struct {
	command []string
	logger  *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecSurface creates a surface running command per item.
// command must contain URLPlaceholder or the locator is appended.
func NewExecSurface(command []string, logger *slog.Logger) (*ExecSurface, error) {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("player command is empty")
	}

	hasPlaceholder := false
	for _, arg := range command {
		if strings.Contains(arg, URLPlaceholder) {
			hasPlaceholder = true
			break
		}
	}

	argv := make([]string, len(command), len(command)+1)
	copy(argv, command)
	if !hasPlaceholder {
		argv = append(argv, URLPlaceholder)
	}

	return &ExecSurface{command: argv, logger: logger}, nil
}

// Play starts the player for item
func (s *ExecSurface) Play(ctx context.Context, item Item, done func(error)) error {
	locator, err := ResolveLocator(item.Locator)
	if err != nil {
		return err
	}

	args := make([]string, len(s.command))
	for i, arg := range s.command {
		args[i] = strings.ReplaceAll(arg, URLPlaceholder, locator)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", ErrPlaybackFailure, args[0], err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Debug("Player started",
		slog.String("locator", locator),
		slog.Int("pid", cmd.Process.Pid),
	)

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrPlaybackFailure, locator, err)
		}
		done(err)
	}()

	return nil
}

// Stop kills the running player, if any
func (s *ExecSurface) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("Failed to stop player", slog.String("error", err.Error()))
		}
	}
}

// TimedSurface pretends each item lasts a fixed duration.
// It is used for headless runs where no player is available.
type TimedSurface struct {
	duration time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	played []Item
}

// NewTimedSurface creates a surface whose items each last duration
func NewTimedSurface(duration time.Duration, logger *slog.Logger) *TimedSurface {
	return &TimedSurface{duration: duration, logger: logger}
}

// Play starts the timer for item
func (s *TimedSurface) Play(ctx context.Context, item Item, done func(error)) error {
	if strings.TrimSpace(item.Locator) == "" {
		return fmt.Errorf("%w: empty locator", ErrPlaybackFailure)
	}

	stopCh := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stopCh
	s.played = append(s.played, item)
	s.mu.Unlock()

	s.logger.Info("Signing clip",
		slog.String("locator", item.Locator),
		slog.Uint64("sequence", item.Sequence),
		slog.Duration("duration", s.duration),
	)

	go func() {
		timer := time.NewTimer(s.duration)
		defer timer.Stop()

		select {
		case <-timer.C:
			done(nil)
		case <-ctx.Done():
		case <-stopCh:
		}
	}()

	return nil
}

// Stop aborts the running timer
func (s *TimedSurface) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// Played returns every item Play accepted, in order
func (s *TimedSurface) Played() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.played))
	copy(out, s.played)
	return out
}
