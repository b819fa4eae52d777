// Package todo is an in-memory todo list. Nothing survives a restart.
package todo

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/techdocs/turbo/internal/apperr"
)

// Todo is a single task.
type Todo struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateInput is the body of POST /todos.
type CreateInput struct {
	Title       string  `json:"title" validate:"required,min=1,max=200"`
	Description *string `json:"description" validate:"omitnil,max=1000"`
	Completed   *bool   `json:"completed"`
}

// UpdateInput is the body of PUT /todos/{id}. Nil fields are left alone.
type UpdateInput struct {
	Title       *string `json:"title" validate:"omitnil,min=1,max=200"`
	Description *string `json:"description" validate:"omitnil,max=1000"`
	Completed   *bool   `json:"completed"`
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	Success bool `json:"success"`
	ID      int  `json:"id"`
}

// Store holds todos keyed by id. Ids start at 1 and are never reused.
type Store struct {
	mu     sync.Mutex
	nextID int
	todos  map[int]Todo
	now    func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{nextID: 1, todos: make(map[int]Todo), now: time.Now}
}

// Create adds a todo and returns it.
func (s *Store) Create(in CreateInput) Todo {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := Todo{
		ID:          s.nextID,
		Title:       in.Title,
		Description: nonEmpty(in.Description),
		CreatedAt:   s.now().UTC(),
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	s.nextID++
	s.todos[t.ID] = t
	return t
}

// Get returns the todo with id.
func (s *Store) Get(id int) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.todos[id]
	if !ok {
		return Todo{}, notFound(id)
	}
	return t, nil
}

// List returns all todos in ascending id order.
func (s *Store) List() []Todo {
	s.mu.Lock()
	out := make([]Todo, 0, len(s.todos))
	for _, t := range s.todos {
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update applies the non-nil fields of in. An empty description counts as
// absent.
func (s *Store) Update(id int, in UpdateInput) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.todos[id]
	if !ok {
		return Todo{}, notFound(id)
	}
	if in.Title != nil {
		t.Title = *in.Title
	}
	if d := nonEmpty(in.Description); d != nil {
		t.Description = d
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	s.todos[id] = t
	return t, nil
}

// Delete removes the todo with id.
func (s *Store) Delete(id int) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.todos[id]; !ok {
		return DeleteResult{}, notFound(id)
	}
	delete(s.todos, id)
	return DeleteResult{Success: true, ID: id}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}

func notFound(id int) error {
	return apperr.NotFound("id", fmt.Sprintf("Todo with ID %d not found", id))
}
