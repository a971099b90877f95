package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"skim/data"
	"skim/ingest"
)

const (
	defaultSavedItemsLimit = 10
	maxSavedItemsLimit     = 50
	maxSearchResults       = 20
)

var errUnknownTool = errors.New("unknown tool")

// toolArgumentError is a validation failure in the caller's arguments.
// It surfaces as a structured tool error, not a protocol error.
type toolArgumentError struct {
	msg string
}

func (e *toolArgumentError) Error() string { return e.msg }

func argErrorf(format string, args ...any) error {
	return &toolArgumentError{msg: fmt.Sprintf(format, args...)}
}

func toolCatalog() []toolDescription {
	return []toolDescription{
		{
			Name:        "list_saved_items",
			Description: "List the items you decided to keep, newest decision first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit":    map[string]any{"type": "integer", "description": "Max results, up to 50 (default 10)."},
					"category": map[string]any{"type": "string", "description": "Only items in this category."},
				},
			},
		},
		{
			Name:        "search_items",
			Description: "Search your decided items by title, summary or note.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Case-insensitive substring to match."},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_preferences",
			Description: "Summarize your decision history: totals and kept-by-category counts.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "add_item",
			Description: "Add an item by hand, outside feed ingestion. It is not queued to anyone.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"source":   map[string]any{"type": "string"},
					"summary":  map[string]any{"type": "string"},
					"url":      map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
				},
				"required": []string{"title", "source", "summary"},
			},
		},
	}
}

// callTool executes one named tool scoped to the session's subscriber.
// No tool can read or write another subscriber's data.
func (s *Server) callTool(ctx context.Context, subscriberID int32, name string, args json.RawMessage) (any, error) {
	switch name {
	case "list_saved_items":
		return s.listSavedItems(ctx, subscriberID, args)
	case "search_items":
		return s.searchItems(ctx, subscriberID, args)
	case "get_preferences":
		return s.getPreferences(ctx, subscriberID)
	case "add_item":
		return s.addItem(ctx, args)
	default:
		return nil, errUnknownTool
	}
}

type itemView struct {
	ID           int32     `json:"id"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Summary      string    `json:"summary"`
	Source       string    `json:"source"`
	Category     string    `json:"category,omitempty"`
	Kind         string    `json:"kind"`
	Note         string    `json:"note,omitempty"`
	DecisionTime time.Time `json:"decided_at"`
}

func itemViews(items []data.DecidedItem) []itemView {
	views := make([]itemView, len(items))
	for i, item := range items {
		views[i] = itemView{
			ID:           item.ID,
			Title:        item.Title,
			URL:          item.URL,
			Summary:      item.Summary,
			Source:       item.SourceName,
			Category:     item.Category,
			Kind:         string(item.Kind),
			Note:         item.Note,
			DecisionTime: item.DecisionTime,
		}
	}
	return views
}

func (s *Server) listSavedItems(ctx context.Context, subscriberID int32, args json.RawMessage) (any, error) {
	var params struct {
		Limit    int    `json:"limit"`
		Category string `json:"category"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, argErrorf("invalid arguments: %v", err)
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultSavedItemsLimit
	}
	if limit > maxSavedItemsLimit {
		limit = maxSavedItemsLimit
	}

	items, err := s.repo.SavedItems(ctx, subscriberID, limit, params.Category)
	if err != nil {
		return nil, err
	}

	return struct {
		Items []itemView `json:"items"`
		Count int        `json:"count"`
	}{Items: itemViews(items), Count: len(items)}, nil
}

func (s *Server) searchItems(ctx context.Context, subscriberID int32, args json.RawMessage) (any, error) {
	var params struct {
		Query string `json:"query"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, argErrorf("invalid arguments: %v", err)
		}
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, argErrorf(`"query" must not be empty`)
	}

	items, err := s.repo.SearchItems(ctx, subscriberID, query, maxSearchResults)
	if err != nil {
		return nil, err
	}

	return struct {
		Items []itemView `json:"items"`
		Count int        `json:"count"`
	}{Items: itemViews(items), Count: len(items)}, nil
}

func (s *Server) getPreferences(ctx context.Context, subscriberID int32) (any, error) {
	stats, err := s.repo.DecisionStats(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	return struct {
		Total              int            `json:"total_decisions"`
		Accepted           int            `json:"accepted"`
		Rejected           int            `json:"rejected"`
		AcceptedByCategory map[string]int `json:"accepted_by_category"`
	}{stats.Total, stats.Accepted, stats.Rejected, stats.AcceptedByCategory}, nil
}

func (s *Server) addItem(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Title    string `json:"title"`
		Source   string `json:"source"`
		Summary  string `json:"summary"`
		URL      string `json:"url"`
		Category string `json:"category"`
	}
	if len(args) == 0 {
		return nil, argErrorf(`"title", "source" and "summary" are required`)
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, argErrorf("invalid arguments: %v", err)
	}
	for name, value := range map[string]string{
		"title":   params.Title,
		"source":  params.Source,
		"summary": params.Summary,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, argErrorf("%q is required", name)
		}
	}

	item := &data.Item{
		Title:      params.Title,
		URL:        params.URL,
		Summary:    params.Summary,
		SourceName: params.Source,
		Category:   params.Category,
	}

	// Same resolve-or-create semantics as ingestion, but no fan-out:
	// a manually added item lands in no one's queue until a decision is
	// recorded against it.
	itemID, created, err := ingest.ResolveOrCreate(ctx, s.repo, item, time.Now())
	if err != nil {
		return nil, err
	}

	kind := item.Kind
	if !created {
		existing, err := s.repo.ItemByID(ctx, itemID)
		if err != nil {
			return nil, err
		}
		kind = existing.Kind
	}

	return struct {
		ItemID  int32  `json:"item_id"`
		Created bool   `json:"created"`
		Kind    string `json:"kind"`
	}{ItemID: itemID, Created: created, Kind: string(kind)}, nil
}
