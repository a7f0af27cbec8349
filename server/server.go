// Package server exposes the background remover over HTTP. Results are kept
// on disk for a limited time and purged on a cron schedule.
package server

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/chromakey/chroma"
	"github.com/chaos-io/chromakey/util"
)

type Config struct {
	Addr       string
	ResultsDir string
	TTL        time.Duration
	PurgeSpec  string

	// MaxUploadBytes 请求体上限，MaxPixels 解码前按图片头里的宽高检查
	MaxUploadBytes int64
	MaxPixels      int
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ResultsDir:     "./results",
		TTL:            time.Hour,
		PurgeSpec:      "@every 10m",
		MaxUploadBytes: 32 << 20,
		MaxPixels:      40_000_000,
	}
}

type Server struct {
	cfg    Config
	store  *Store
	cron   *cron.Cron
	engine *gin.Engine
}

func New(cfg Config) (*Server, error) {
	store, err := NewStore(cfg.ResultsDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:   cfg,
		store: store,
		cron:  cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.PurgeSpec, s.purge); err != nil {
		return nil, errors.Wrapf(err, "purge schedule %q", cfg.PurgeSpec)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.MaxMultipartMemory = cfg.MaxUploadBytes
	s.engine.Use(gin.Recovery(), requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	v1 := s.engine.Group("/v1")
	v1.POST("/remove", s.handleRemove)
	v1.GET("/results/:id", s.handleResult)
	v1.DELETE("/results/:id", s.handleDelete)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动清理任务和 HTTP 服务，ctx 取消后优雅退出
func (s *Server) Run(ctx context.Context) error {
	s.cron.Start()
	defer func() {
		<-s.cron.Stop().Done()
	}()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", s.cfg.Addr, "results", s.cfg.ResultsDir, "ttl", s.cfg.TTL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	}
}

func (s *Server) purge() {
	n, err := s.store.Purge(time.Now(), s.cfg.TTL)
	if err != nil {
		slog.Error("purge results", "err", err)
		return
	}
	if n > 0 {
		slog.Info("purged expired results", "count", n)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

type rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type removeResp struct {
	ID         string       `json:"id"`
	Format     string       `json:"format"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Foreground *rect        `json:"foreground"`
	Stats      chroma.Stats `json:"stats"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRemove(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing form file \"image\""})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer func() {
		_ = f.Close()
	}()

	// 先只读图片头，宽高过大时不分配像素缓冲
	hdr, _, err := image.DecodeConfig(f)
	if err != nil {
		decErr := &chroma.DecodeError{Path: fh.Filename, Err: err}
		c.JSON(http.StatusBadRequest, gin.H{"error": decErr.Error()})
		return
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || int64(hdr.Width)*int64(hdr.Height) > int64(s.cfg.MaxPixels) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("image %dx%d exceeds %d pixels", hdr.Width, hdr.Height, s.cfg.MaxPixels),
		})
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rewind upload"})
		return
	}

	img, format, err := util.DecodeImage(f)
	if err != nil {
		decErr := &chroma.DecodeError{Path: fh.Filename, Err: err}
		c.JSON(http.StatusBadRequest, gin.H{"error": decErr.Error()})
		return
	}

	out, stats := chroma.RemoveWithStats(img)
	id, err := s.store.Put(out)
	if err != nil {
		encErr := &chroma.EncodeError{Path: fh.Filename, Err: err}
		slog.Error("store result", "err", encErr)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store result"})
		return
	}

	resp := removeResp{
		ID:     id,
		Format: format,
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
		Stats:  stats,
	}
	if fg, ok := chroma.ForegroundBounds(out); ok {
		resp.Foreground = &rect{X: fg.Min.X, Y: fg.Min.Y, Width: fg.Dx(), Height: fg.Dy()}
	}

	slog.Debug("removed background", "id", id, "name", fh.Filename, "format", format)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleResult(c *gin.Context) {
	id := c.Param("id")

	p, err := s.store.Path(id)
	if err != nil {
		s.abortStoreErr(c, err)
		return
	}

	maxParam := c.Query("max")
	if maxParam == "" {
		c.File(p)
		return
	}

	maxSize, err := strconv.Atoi(maxParam)
	if err != nil || maxSize <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max must be a positive integer"})
		return
	}

	img, err := s.store.Open(id)
	if err != nil {
		s.abortStoreErr(c, err)
		return
	}

	s.writePNG(c, resizeWithinMax(img, maxSize))
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		s.abortStoreErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writePNG(c *gin.Context, img image.Image) {
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, img); err != nil {
		slog.Error("write preview", "err", err)
	}
}

func (s *Server) abortStoreErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		slog.Error("result store", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
