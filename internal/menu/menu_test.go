package menu

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr  error
	returnNil bool
	vector    []float32
	callCount int
	lastText  string
}

func (m *mockEmbedder) Name() string            { return "mock-embedder" }
func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastText = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnNil {
		return &ai.EmbedResponse{}, nil
	}
	vec := m.vector
	if vec == nil {
		vec = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: vec}}}, nil
}

// fakeRows implements pgx.Rows over fixture data.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *[]byte:
			*p = row[i].([]byte)
		case *float64:
			*p = row[i].(float64)
		case *int64:
			*p = row[i].(int64)
		default:
			return errors.New("unsupported scan target")
		}
	}
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return (&fakeRows{rows: [][]any{r.values}, idx: 1}).Scan(dest...)
}

// mockQuerier implements Querier with scripted results.
type mockQuerier struct {
	queryRows *fakeRows
	queryErr  error
	rowValues []any
	rowErr    error
	execErr   error

	queryCalls int
	execCalls  int
	lastSQL    string
	lastArgs   []any
}

func (m *mockQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.queryCalls++
	m.lastSQL = sql
	m.lastArgs = args
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryRows, nil
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.lastSQL = sql
	return fakeRow{values: m.rowValues, err: m.rowErr}
}

func (m *mockQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execCalls++
	m.lastSQL = sql
	m.lastArgs = args
	return pgconn.CommandTag{}, m.execErr
}

func dishRow(id, name, content string, score float64) []any {
	meta, _ := json.Marshal(map[string]string{"Name": name})
	return []any{id, content, meta, score}
}

func TestSearch(t *testing.T) {
	q := &mockQuerier{queryRows: &fakeRows{rows: [][]any{
		dishRow("1", "Spaghetti Carbonara", "Spaghetti Carbonara Pasta [guanciale, pecorino]", 0.92),
		dishRow("2", "Lasagne", "Lasagne Pasta [beef, ragu]", 0.71),
	}}}
	emb := &mockEmbedder{}
	store := New(q, emb, nil)

	results, err := store.Search(context.Background(), "pasta with bacon", 4, 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Name() != "Spaghetti Carbonara" {
		t.Errorf("first result = %q", results[0].Name())
	}
	if results[0].Score != 0.92 {
		t.Errorf("score = %v", results[0].Score)
	}
	if emb.lastText != "pasta with bacon" {
		t.Errorf("embedded text = %q", emb.lastText)
	}
}

func TestSearchMinScoreFilters(t *testing.T) {
	q := &mockQuerier{queryRows: &fakeRows{rows: [][]any{
		dishRow("1", "Carbonara", "c", 0.92),
		dishRow("2", "Lasagne", "l", 0.31),
	}}}
	store := New(q, &mockEmbedder{}, nil)

	results, err := store.Search(context.Background(), "pasta", 4, 0.5)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Name() != "Carbonara" {
		t.Errorf("results = %+v, want only Carbonara", results)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	store := New(&mockQuerier{}, &mockEmbedder{}, nil)
	if _, err := store.Search(context.Background(), "   ", 4, 0); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("Search() = %v, want ErrEmptyQuery", err)
	}
}

func TestSearchNoMatchesIsNotError(t *testing.T) {
	q := &mockQuerier{queryRows: &fakeRows{}}
	store := New(q, &mockEmbedder{}, nil)

	results, err := store.Search(context.Background(), "sushi", 4, 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestSearchEmbedderFailure(t *testing.T) {
	emb := &mockEmbedder{embedErr: errors.New("provider down")}
	store := New(&mockQuerier{}, emb, nil)

	if _, err := store.Search(context.Background(), "pasta", 4, 0); err == nil {
		t.Fatal("expected error when embedder fails")
	}
}

func TestSearchNoEmbedding(t *testing.T) {
	emb := &mockEmbedder{returnNil: true}
	store := New(&mockQuerier{}, emb, nil)

	if _, err := store.Search(context.Background(), "pasta", 4, 0); !errors.Is(err, ErrNoEmbedding) {
		t.Fatalf("Search() = %v, want ErrNoEmbedding", err)
	}
}

func TestSearchQueryFailure(t *testing.T) {
	q := &mockQuerier{queryErr: errors.New("connection refused")}
	store := New(q, &mockEmbedder{}, nil)

	if _, err := store.Search(context.Background(), "pasta", 4, 0); err == nil {
		t.Fatal("expected error when query fails")
	}
}

func TestAdd(t *testing.T) {
	q := &mockQuerier{}
	emb := &mockEmbedder{}
	store := New(q, emb, nil)

	doc := Document{
		Content:  "Tiramisu Dessert [mascarpone, espresso]",
		Metadata: map[string]string{"Name": "Tiramisu"},
	}
	if err := store.Add(context.Background(), doc); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if q.execCalls != 1 {
		t.Errorf("execCalls = %d, want 1", q.execCalls)
	}
	if emb.lastText != doc.Content {
		t.Errorf("embedded text = %q", emb.lastText)
	}
}

func TestAddEmptyContent(t *testing.T) {
	store := New(&mockQuerier{}, &mockEmbedder{}, nil)
	if err := store.Add(context.Background(), Document{}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestCount(t *testing.T) {
	q := &mockQuerier{rowValues: []any{int64(42)}}
	store := New(q, &mockEmbedder{}, nil)

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 42 {
		t.Errorf("Count() = %d, want 42", count)
	}
}

func TestDocumentNameFallsBackToContent(t *testing.T) {
	d := Document{Content: "mystery dish"}
	if got := d.Name(); got != "mystery dish" {
		t.Errorf("Name() = %q", got)
	}
}
