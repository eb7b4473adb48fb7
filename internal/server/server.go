// Package server exposes a studio over a JSON HTTP API.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/manash/memegen/internal/imagestore"
	"github.com/manash/memegen/internal/layers"
	"github.com/manash/memegen/internal/render"
	"github.com/manash/memegen/internal/studio"
	"github.com/manash/memegen/internal/templates"
	"github.com/manash/memegen/pkg/models"
)

const shutdownTimeout = 5 * time.Second

// MaxUploadBytes caps multipart uploads.
const MaxUploadBytes = 32 << 20

type Server struct {
	studio *studio.Studio
	engine *gin.Engine
	logger *log.Logger
}

func New(st *studio.Studio, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	engine.MaxMultipartMemory = MaxUploadBytes

	s := &Server{studio: st, engine: engine, logger: logger}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.GET("/state", s.getState)
	api.GET("/templates", s.listTemplates)

	api.POST("/image", s.uploadImage)
	api.POST("/image/template/:id", s.loadTemplate)

	api.POST("/layers", s.addLayer)
	api.PATCH("/layers/:id", s.updateLayer)
	api.DELETE("/layers/:id", s.deleteLayer)

	api.POST("/pointer/:event", s.pointer)

	api.POST("/ai/captions", s.suggestCaptions)
	api.POST("/ai/captions/:index/use", s.useCaption)
	api.DELETE("/ai/captions", s.clearCaptions)
	api.POST("/ai/analyze", s.analyze)
	api.POST("/ai/edit", s.editImage)

	api.DELETE("/error", s.dismissError)

	api.GET("/render.png", s.renderPNG)
	api.GET("/export", s.export)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.studio.State())
}

func (s *Server) listTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, templates.All())
}

func (s *Server) uploadImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		s.badRequest(c, "missing image file")
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.badRequest(c, "unreadable upload")
		return
	}
	defer f.Close()

	if err := s.studio.LoadUpload(f, fh.Filename); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.studio.State())
}

func (s *Server) loadTemplate(c *gin.Context) {
	if _, err := s.studio.LoadTemplate(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.studio.State())
}

type addLayerRequest struct {
	Content string  `json:"content"`
	Y       float64 `json:"y"`
}

func (s *Server) addLayer(c *gin.Context) {
	var req addLayerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid request body")
			return
		}
	}

	var l models.TextLayer
	if req.Content == "" {
		l = s.studio.AddDefaultText()
	} else {
		l = s.studio.AddText(req.Content, req.Y)
	}
	c.JSON(http.StatusCreated, l)
}

type updateLayerRequest struct {
	Content  *string  `json:"content"`
	FontSize *int     `json:"fontSize"`
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
}

func (s *Server) updateLayer(c *gin.Context) {
	var req updateLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	if (req.X == nil) != (req.Y == nil) {
		s.badRequest(c, "x and y must be set together")
		return
	}

	id := c.Param("id")
	if req.FontSize != nil {
		if err := models.ValidateFontSize(*req.FontSize); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.Content != nil {
		if err := s.studio.EditText(id, *req.Content); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.FontSize != nil {
		if err := s.studio.ResizeText(id, *req.FontSize); err != nil {
			s.fail(c, err)
			return
		}
	}
	if req.X != nil {
		if err := s.studio.MoveText(id, *req.X, *req.Y); err != nil {
			s.fail(c, err)
			return
		}
	}

	for _, l := range s.studio.Layers() {
		if l.ID == id {
			c.JSON(http.StatusOK, l)
			return
		}
	}
	s.fail(c, layers.ErrLayerNotFound)
}

func (s *Server) deleteLayer(c *gin.Context) {
	if err := s.studio.DeleteText(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pointerRequest struct {
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Viewport *models.Viewport `json:"viewport"`
}

type pointerResponse struct {
	Dragging bool              `json:"dragging"`
	Layer    *models.TextLayer `json:"layer,omitempty"`
	LayerID  string            `json:"layerId,omitempty"`
}

func (s *Server) pointer(c *gin.Context) {
	event := c.Param("event")

	var req pointerRequest
	if event == "down" || event == "move" {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, "invalid request body")
			return
		}
		if req.Viewport != nil {
			s.studio.SetViewport(*req.Viewport)
		}
	}
	p := models.Point{X: req.X, Y: req.Y}

	switch event {
	case "down":
		id, ok := s.studio.PointerDown(p)
		c.JSON(http.StatusOK, pointerResponse{Dragging: ok, LayerID: id})
	case "move":
		l, ok := s.studio.PointerMove(p)
		resp := pointerResponse{Dragging: ok}
		if ok {
			resp.Layer = &l
			resp.LayerID = l.ID
		}
		c.JSON(http.StatusOK, resp)
	case "up":
		s.studio.PointerUp()
		c.JSON(http.StatusOK, pointerResponse{})
	case "leave":
		s.studio.PointerLeave()
		c.JSON(http.StatusOK, pointerResponse{})
	default:
		s.notFound(c, "unknown pointer event")
	}
}

func (s *Server) suggestCaptions(c *gin.Context) {
	captions, err := s.studio.SuggestCaptions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"captions": captions})
}

func (s *Server) useCaption(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		s.badRequest(c, "invalid caption index")
		return
	}
	l, err := s.studio.UseCaption(index)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (s *Server) clearCaptions(c *gin.Context) {
	s.studio.ClearCaptions()
	c.Status(http.StatusNoContent)
}

func (s *Server) analyze(c *gin.Context) {
	result, err := s.studio.Analyze(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) editImage(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	changed, err := s.studio.EditImage(c.Request.Context(), req.Instruction)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "state": s.studio.State()})
}

func (s *Server) dismissError(c *gin.Context) {
	s.studio.DismissError()
	c.Status(http.StatusNoContent)
}

func (s *Server) renderPNG(c *gin.Context) {
	canvas, err := s.studio.Render()
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := canvas.PNG()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) export(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.studio.Export(&buf); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", models.ExportFilename))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) notFound(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": msg})
}

// fail maps err to a status and a message safe to show users. AI and
// template failures carry the studio's banner text.
func (s *Server) fail(c *gin.Context, err error) {
	status, msg := s.classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "err", err)
	} else {
		s.logger.Debug("request rejected", "path", c.FullPath(), "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) classify(err error) (int, string) {
	if banner, ok := studio.BannerFor(err); ok {
		return http.StatusBadGateway, banner
	}

	switch {
	case errors.Is(err, studio.ErrBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, studio.ErrStaleResult):
		return http.StatusConflict, err.Error()
	case errors.Is(err, layers.ErrLayerNotFound),
		errors.Is(err, templates.ErrTemplateNotFound),
		errors.Is(err, studio.ErrCaptionIndex):
		return http.StatusNotFound, rootMessage(err)
	case errors.Is(err, studio.ErrNoImage),
		errors.Is(err, models.ErrInvalidFontSize),
		errors.Is(err, models.ErrEmptyInstruction),
		errors.Is(err, models.ErrNotImage),
		errors.Is(err, models.ErrNoImageData),
		errors.Is(err, imagestore.ErrTooLarge),
		errors.Is(err, imagestore.ErrTemplateLoad),
		errors.Is(err, render.ErrDecodeImage),
		errors.Is(err, templates.ErrAmbiguousName),
		errors.Is(err, layers.ErrAmbiguousID):
		return http.StatusBadRequest, rootMessage(err)
	}
	return http.StatusInternalServerError, "internal error"
}

// rootMessage returns the innermost error text, dropping wrapped detail
// such as file names.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
