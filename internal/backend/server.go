package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/skypro1111/signstream/internal/transport"
)

// DefaultClip is served when no clips are configured
const DefaultClip = "https://www.w3schools.com/html/mov_bbb.mp4"

// Translator turns one audio chunk into sign clip locators
type Translator interface {
	Translate(ctx context.Context, audio []byte) ([]string, error)
}

// StaticTranslator hands out configured clips in rotation
type StaticTranslator struct {
	clips   []string
	perCall int

	next int
	mu   sync.Mutex
}

// NewStaticTranslator returns perCall clips per chunk, cycling through clips
func NewStaticTranslator(clips []string, perCall int) *StaticTranslator {
	if len(clips) == 0 {
		clips = []string{DefaultClip}
	}
	if perCall <= 0 {
		perCall = 1
	}
	return &StaticTranslator{clips: clips, perCall: perCall}
}

// Translate returns the next clips in rotation
func (t *StaticTranslator) Translate(ctx context.Context, audio []byte) ([]string, error) {
	if len(audio) == 0 {
		return nil, errors.New("empty audio")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, t.perCall)
	for i := 0; i < t.perCall; i++ {
		out = append(out, t.clips[t.next])
		t.next = (t.next + 1) % len(t.clips)
	}
	return out, nil
}

// Config contains stub backend configuration
type Config struct {
	Path      string
	Legacy    bool // Answer with the single video_url shape
	BodyLimit int
}

// Server is a stand-in translation backend
type Server struct {
	app        *fiber.App
	translator Translator
	logger     *slog.Logger
	config     Config

	// Statistics
	received uint64
	rejected uint64
	failed   uint64
	mu       sync.Mutex
}

// Stats represents backend statistics
type Stats struct {
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
}

type legacyResponse struct {
	VideoURL string `json:"video_url"`
	Message  string `json:"message"`
}

// New creates the backend and registers its routes
func New(translator Translator, logger *slog.Logger, config Config) *Server {
	if config.Path == "" {
		config.Path = "/process-audio"
	}
	if config.BodyLimit <= 0 {
		config.BodyLimit = 10 << 20
	}

	s := &Server{
		translator: translator,
		logger:     logger,
		config:     config,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "signstream-backend",
		BodyLimit:             config.BodyLimit,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})
	s.app.Use(recover.New())
	// Browser capture surfaces post from another origin
	s.app.Use(cors.New())

	s.app.Post(config.Path, s.handleProcessAudio)
	s.app.Get("/health", s.handleHealth)

	return s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	s.logger.Info("Backend listening",
		slog.String("address", addr),
		slog.String("path", s.config.Path),
		slog.Bool("legacy", s.config.Legacy),
	)
	return s.app.Listen(addr)
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleProcessAudio(c *fiber.Ctx) error {
	header, err := c.FormFile(transport.FieldName)
	if err != nil {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		return c.Status(fiber.StatusBadRequest).JSON(transport.TranslationResult{
			Success: false,
			Error:   "No audio file provided",
		})
	}

	file, err := header.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	s.logger.Info("Received audio chunk",
		slog.Int("bytes", len(data)),
		slog.String("filename", header.Filename),
		slog.String("content_type", header.Header.Get("Content-Type")),
		slog.String("sequence", c.Get("X-Chunk-Sequence")),
		slog.String("request_id", c.Get("X-Request-ID")),
	)

	clips, err := s.translator.Translate(c.UserContext(), data)
	if err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		s.logger.Warn("Translation failed", slog.String("error", err.Error()))
		return c.JSON(transport.TranslationResult{
			Success: false,
			Error:   err.Error(),
		})
	}

	videoURL := ""
	if len(clips) > 0 {
		videoURL = clips[0]
	}

	if s.config.Legacy {
		return c.JSON(legacyResponse{
			VideoURL: videoURL,
			Message:  "Chunk processed successfully",
		})
	}

	return c.JSON(transport.TranslationResult{
		Success: true,
		Data: &transport.ResultData{
			Clips:    clips,
			VideoURL: videoURL,
			Message:  "Chunk processed successfully",
			Bytes:    len(data),
		},
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"stats":     s.GetStats(),
	})
}

// GetStats returns current backend statistics
func (s *Server) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Received: s.received, Rejected: s.rejected, Failed: s.failed}
}
