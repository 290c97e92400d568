package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// MemoryCatalog is an in-process Catalog used with the memory seat
// store, by the stress command and in tests.
type MemoryCatalog struct {
	mu         sync.RWMutex
	movies     map[string]model.Movie
	users      map[string]model.User
	byUsername map[string]string
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		movies:     make(map[string]model.Movie),
		users:      make(map[string]model.User),
		byUsername: make(map[string]string),
	}
}

func (c *MemoryCatalog) CreateMovie(_ context.Context, name string, showDate time.Time) (model.Movie, error) {
	name, err := NormalizeMovieName(name)
	if err != nil {
		return model.Movie{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.movies[name]; ok {
		return model.Movie{}, ErrMovieExists
	}
	now := time.Now().UTC()
	m := model.Movie{Name: name, ShowDate: showDate.UTC(), CreatedAt: now, UpdatedAt: now}
	c.movies[name] = m
	return m, nil
}

func (c *MemoryCatalog) GetMovie(_ context.Context, name string) (model.Movie, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.movies[name]
	if !ok {
		return model.Movie{}, ErrMovieNotFound
	}
	return m, nil
}

func (c *MemoryCatalog) ListMovies(context.Context) ([]model.Movie, error) {
	c.mu.RLock()
	out := make([]model.Movie, 0, len(c.movies))
	for _, m := range c.movies {
		out = append(out, m)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ShowDate.Equal(out[j].ShowDate) {
			return out[i].ShowDate.Before(out[j].ShowDate)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (c *MemoryCatalog) UpdateShowDate(_ context.Context, name string, showDate time.Time) (model.Movie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.movies[name]
	if !ok {
		return model.Movie{}, ErrMovieNotFound
	}
	m.ShowDate, m.UpdatedAt = showDate.UTC(), time.Now().UTC()
	c.movies[name] = m
	return m, nil
}

func (c *MemoryCatalog) CreateUser(_ context.Context, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byUsername[username]; ok {
		return model.User{}, ErrUsernameTaken
	}
	now := time.Now().UTC()
	u := model.User{ID: uuid.NewString(), Username: username, CreatedAt: now, UpdatedAt: now}
	c.users[u.ID] = u
	c.byUsername[username] = u.ID
	return u, nil
}

func (c *MemoryCatalog) GetUser(_ context.Context, id string) (model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return u, nil
}

func (c *MemoryCatalog) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, ErrUserNotFound
	}
	c.mu.RLock()
	id, ok := c.byUsername[username]
	c.mu.RUnlock()
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return c.GetUser(ctx, id)
}

func (c *MemoryCatalog) ListUsers(context.Context) ([]model.User, error) {
	c.mu.RLock()
	out := make([]model.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (c *MemoryCatalog) RenameUser(_ context.Context, id, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	if other, taken := c.byUsername[username]; taken && other != id {
		return model.User{}, ErrUsernameTaken
	}
	delete(c.byUsername, u.Username)
	u.Username, u.UpdatedAt = username, time.Now().UTC()
	c.users[id] = u
	c.byUsername[username] = id
	return u, nil
}
