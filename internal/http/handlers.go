package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docchat/internal/conversation"
	"github.com/fyrsmithlabs/docchat/internal/index"
)

// Every handler that needs the active index reads Gateway.Current() once and
// passes that handle down, so a concurrent /init_index cannot switch indexes
// under a request in flight.

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, liveText)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateIndex(c echo.Context) error {
	name := c.Param("name")
	err := s.services.Gateway.CreateNamed(c.Request().Context(), name)
	switch {
	case errors.Is(err, index.ErrInvalidIndexName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, index.ErrIndexExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, fmt.Sprintf(createdFormat, name))
}

func (s *Server) handleInitIndex(c echo.Context) error {
	name := c.Param("name")
	_, err := s.services.Gateway.Activate(c.Request().Context(), name)
	switch {
	case errors.Is(err, index.ErrInvalidIndexName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, index.ErrIndexNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusOK, fmt.Sprintf(activatedFormat, name))
}

func (s *Server) handleReadIndex(c echo.Context) error {
	h := s.services.Gateway.Current()
	if h == nil {
		return c.JSON(http.StatusOK, noHandleText)
	}
	return c.JSON(http.StatusOK, h.String())
}

func (s *Server) handleListIndices(c echo.Context) error {
	records, err := s.services.Documents.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	h := s.services.Gateway.Current()
	msg, err := s.services.Documents.Delete(c.Request().Context(), h, c.Param("doc_id"))
	if errors.Is(err, index.ErrNoActiveIndex) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) handleDeleteAll(c echo.Context) error {
	h := s.services.Gateway.Current()
	msg, err := s.services.Documents.DeleteAll(c.Request().Context(), h)
	if errors.Is(err, index.ErrNoActiveIndex) {
		return c.JSON(http.StatusOK, nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) handleQuery(c echo.Context) error {
	if !c.QueryParams().Has("text") {
		return echo.NewHTTPError(http.StatusBadRequest, "text query parameter is required")
	}

	h := s.services.Gateway.Current()
	ans, err := s.services.Chat.Query(c.Request().Context(), h, c.QueryParam("text"), c.Param("chat_id"))
	if err != nil {
		return err
	}
	if ans.Outcome == conversation.OutcomeEmpty {
		return c.JSON(http.StatusOK, QueryResponse{Content: emptyIndexText})
	}
	return c.JSON(http.StatusOK, QueryResponse{Content: ans.Text})
}

func (s *Server) handleGetChat(c echo.Context) error {
	h := s.services.Gateway.Current()
	tr, err := s.services.Chat.History(c.Request().Context(), h, c.Param("chat_id"))
	if err != nil {
		return err
	}
	if tr.Outcome == conversation.OutcomeEmpty {
		return c.JSON(http.StatusOK, emptyIndexText)
	}
	turns := tr.Turns
	if turns == nil {
		turns = []llms.ChatMessageModel{}
	}
	return c.JSON(http.StatusOK, turns)
}

func (s *Server) handleUpload(c echo.Context) error {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, s.config.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file form field is required")
	}
	base := filepath.Base(fh.Filename)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file name")
	}

	ctx := req.Context()
	h := s.services.Gateway.Current()
	path, cleanup, err := s.stage(ctx, fh, base)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := s.services.Documents.Insert(ctx, h, path); err != nil {
		if errors.Is(err, index.ErrNoActiveIndex) {
			return c.JSON(http.StatusOK, failedInsertText)
		}
		return err
	}
	return c.JSON(http.StatusOK, UploadResponse{Filename: fh.Filename})
}

// stage copies the upload to <UploadDir>/<random>/<base>. The random
// directory keeps concurrent uploads of the same name apart while the file
// keeps its original base name for display-name generation.
func (s *Server) stage(ctx context.Context, fh *multipart.FileHeader, base string) (string, func(), error) {
	if err := os.MkdirAll(s.config.UploadDir, 0o750); err != nil {
		return "", nil, fmt.Errorf("creating upload dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.config.UploadDir, "upload-")
	if err != nil {
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "removing staged upload failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	src, err := fh.Open()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(dir, base)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, fmt.Errorf("writing upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("writing upload: %w", err)
	}
	return path, cleanup, nil
}
