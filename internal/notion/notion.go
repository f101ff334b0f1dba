// Package notion implements the record store contract against the Notion
// REST API. Databases are tables, pages are records and containers, and
// blocks are content nodes.
package notion

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/agentstation/mirrorsync/internal/transport"
	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/records"
	"github.com/agentstation/mirrorsync/pkg/store"
)

// API defaults.
const (
	DefaultBaseURL   = "https://api.notion.com/v1"
	DefaultVersion   = "2022-06-28"
	DefaultRateLimit = 3.0
	DefaultPageSize  = 100

	// maxAppend is the API's limit on children per append request.
	maxAppend = 100
)

// Config holds the connection settings.
type Config struct {
	Token      string
	BaseURL    string
	Version    string
	RateLimit  float64
	HTTPClient *http.Client

	// AuthHeader, when set, carries the token in this header instead of
	// a bearer Authorization header. Used behind API proxies.
	AuthHeader string
}

// Store is a store.Store backed by the Notion API.
type Store struct {
	client *transport.Client
}

var (
	_ store.Store         = (*Store)(nil)
	_ store.SchemaUpdater = (*Store)(nil)
)

// New creates a Notion store. Empty settings take the package defaults.
func New(cfg Config) *Store {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	burst := max(int(cfg.RateLimit), 1)
	opts := []transport.Option{
		transport.WithHeader("Notion-Version", cfg.Version),
		transport.WithRateLimit(cfg.RateLimit, burst),
		transport.WithHTTPClient(cfg.HTTPClient),
	}
	if cfg.AuthHeader != "" {
		opts = append(opts, transport.WithAuthenticator(&transport.HeaderAuth{Header: cfg.AuthHeader}))
	}
	return &Store{client: transport.New(cfg.BaseURL, cfg.Token, opts...)}
}

type listResponse[T any] struct {
	Results    []T     `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

func (l listResponse[T]) cursor() string {
	if l.NextCursor == nil {
		return ""
	}
	return *l.NextCursor
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, tableID string, filter *records.Filter, cursor string) (*records.QueryPage, error) {
	body := map[string]any{"page_size": DefaultPageSize}
	if f := encodeFilter(filter); f != nil {
		body["filter"] = f
	}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp listResponse[page]
	err := s.client.Call(ctx, transport.Request{
		Operation: "query",
		Target:    tableID,
		Method:    http.MethodPost,
		Path:      "/databases/" + tableID + "/query",
		Body:      body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &records.QueryPage{HasMore: resp.HasMore, NextCursor: resp.cursor()}
	for _, p := range resp.Results {
		out.Records = append(out.Records, decodePage(p))
	}
	return out, nil
}

// CreateRecord implements store.Store.
func (s *Store) CreateRecord(ctx context.Context, tableID string, fields records.Fields) (string, error) {
	var created page
	err := s.client.Call(ctx, transport.Request{
		Operation: "create_record",
		Target:    tableID,
		Method:    http.MethodPost,
		Path:      "/pages",
		Body: map[string]any{
			"parent":     map[string]any{"database_id": tableID},
			"properties": encodeFields(fields),
		},
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateRecord implements store.Store.
func (s *Store) UpdateRecord(ctx context.Context, recordID string, fields records.Fields) error {
	return s.client.Call(ctx, transport.Request{
		Operation: "update_record",
		Target:    recordID,
		Method:    http.MethodPatch,
		Path:      "/pages/" + recordID,
		Body:      map[string]any{"properties": encodeFields(fields)},
	}, nil)
}

// GetRecord implements store.Store.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*records.Record, error) {
	var p page
	err := s.client.Call(ctx, transport.Request{
		Operation: "get_record",
		Target:    recordID,
		Method:    http.MethodGet,
		Path:      "/pages/" + recordID,
	}, &p)
	if err != nil {
		return nil, err
	}
	rec := decodePage(p)
	return &rec, nil
}

// ListChildren implements store.Store.
func (s *Store) ListChildren(ctx context.Context, containerID string, cursor string) (*records.ChildrenPage, error) {
	q := url.Values{"page_size": {strconv.Itoa(DefaultPageSize)}}
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}

	var resp listResponse[map[string]any]
	err := s.client.Call(ctx, transport.Request{
		Operation: "list_children",
		Target:    containerID,
		Method:    http.MethodGet,
		Path:      "/blocks/" + containerID + "/children",
		Query:     q,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &records.ChildrenPage{HasMore: resp.HasMore, NextCursor: resp.cursor()}
	for _, raw := range resp.Results {
		out.Children = append(out.Children, decodeBlock(raw))
	}
	return out, nil
}

// CreateTable implements store.Store. Tables are created inline.
func (s *Store) CreateTable(ctx context.Context, containerID, title string, schema records.Schema) (string, error) {
	var created database
	err := s.client.Call(ctx, transport.Request{
		Operation: "create_table",
		Target:    containerID,
		Method:    http.MethodPost,
		Path:      "/databases",
		Body: map[string]any{
			"parent":     map[string]any{"type": "page_id", "page_id": containerID},
			"title":      textValue(title),
			"is_inline":  true,
			"properties": encodeSchema(schema),
		},
	}, &created)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// GetTableSchema implements store.Store.
func (s *Store) GetTableSchema(ctx context.Context, tableID string) (*records.Table, error) {
	var db database
	err := s.client.Call(ctx, transport.Request{
		Operation: "get_table_schema",
		Target:    tableID,
		Method:    http.MethodGet,
		Path:      "/databases/" + tableID,
	}, &db)
	if err != nil {
		return nil, err
	}
	return decodeDatabase(db), nil
}

// AppendContent implements store.Store. Nodes are sent in chunks the API
// accepts, preserving order.
func (s *Store) AppendContent(ctx context.Context, containerID string, nodes []records.Node) error {
	for start := 0; start < len(nodes); start += maxAppend {
		chunk := nodes[start:min(start+maxAppend, len(nodes))]
		children := make([]map[string]any, 0, len(chunk))
		for _, n := range chunk {
			if n.IsTable() {
				return &errors.TransportError{
					Operation:  "append_content",
					Target:     containerID,
					StatusCode: http.StatusBadRequest,
					Message:    "tables cannot be appended as content",
				}
			}
			children = append(children, encodeBlock(n))
		}
		err := s.client.Call(ctx, transport.Request{
			Operation: "append_content",
			Target:    containerID,
			Method:    http.MethodPatch,
			Path:      "/blocks/" + containerID + "/children",
			Body:      map[string]any{"children": children},
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateTableSchema implements store.SchemaUpdater.
func (s *Store) UpdateTableSchema(ctx context.Context, tableID string, schema records.Schema) error {
	return s.client.Call(ctx, transport.Request{
		Operation: "update_table_schema",
		Target:    tableID,
		Method:    http.MethodPatch,
		Path:      "/databases/" + tableID,
		Body:      map[string]any{"properties": encodeSchema(schema)},
	}, nil)
}
