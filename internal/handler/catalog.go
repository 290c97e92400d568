package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-coordinator/internal/repository"
)

// CatalogHandler manages movies and users, the reference data that seat
// reservations point at.
type CatalogHandler struct {
	Catalog repository.Catalog
}

func NewCatalogHandler(cat repository.Catalog) *CatalogHandler {
	if cat == nil {
		panic("nil catalog passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: cat}
}

type movieRequest struct {
	Name     string `json:"name"`
	ShowDate string `json:"show_date"`
}

type userRequest struct {
	Username string `json:"username"`
}

// CreateMovie handles POST /v1/movies.
func (h *CatalogHandler) CreateMovie(c echo.Context) error {
	var body movieRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := repository.ParseShowDate(body.ShowDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	m, err := h.Catalog.CreateMovie(c.Request().Context(), body.Name, date)
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// ListMovies handles GET /v1/movies.
func (h *CatalogHandler) ListMovies(c echo.Context) error {
	movies, err := h.Catalog.ListMovies(c.Request().Context())
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": movies})
}

// GetMovie handles GET /v1/movies/:movie.
func (h *CatalogHandler) GetMovie(c echo.Context) error {
	m, err := h.Catalog.GetMovie(c.Request().Context(), pathParam(c, "movie"))
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// UpdateMovie handles PATCH /v1/movies/:movie.  Only the show date can
// change; the name is the key seats are stored under.
func (h *CatalogHandler) UpdateMovie(c echo.Context) error {
	var body movieRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	date, err := repository.ParseShowDate(body.ShowDate)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	m, err := h.Catalog.UpdateShowDate(c.Request().Context(), pathParam(c, "movie"), date)
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// CreateUser handles POST /v1/users.
func (h *CatalogHandler) CreateUser(c echo.Context) error {
	var body userRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	u, err := h.Catalog.CreateUser(c.Request().Context(), body.Username)
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// ListUsers handles GET /v1/users.  With ?username= it answers with the
// matching user only, by the secondary index.
func (h *CatalogHandler) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	if name := strings.TrimSpace(c.QueryParam("username")); name != "" {
		u, err := h.Catalog.GetUserByUsername(ctx, name)
		if err != nil {
			return catalogError(c, err)
		}
		return c.JSON(http.StatusOK, u)
	}
	users, err := h.Catalog.ListUsers(ctx)
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users})
}

// GetUser handles GET /v1/users/:id.
func (h *CatalogHandler) GetUser(c echo.Context) error {
	u, err := h.Catalog.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// RenameUser handles PATCH /v1/users/:id.
func (h *CatalogHandler) RenameUser(c echo.Context) error {
	var body userRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	u, err := h.Catalog.RenameUser(c.Request().Context(), c.Param("id"), body.Username)
	if err != nil {
		return catalogError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func catalogError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrMovieNotFound), errors.Is(err, repository.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrMovieExists), errors.Is(err, repository.ErrUsernameTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	c.Logger().Errorf("catalog: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}
