package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/immigration-intake/internal/core/domain"
)

func TestUpsertEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var lastPoints struct {
		Points []struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/guidelines":
			atomic.AddInt32(&ensureCalls, 1)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/guidelines/points":
			if err := json.NewDecoder(r.Body).Decode(&lastPoints); err != nil {
				t.Fatalf("decode upsert: %v", err)
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "guidelines", nil)
	meta := map[string]any{"type": domain.IndexTypeGuideline, "name": "residence_permit"}

	first, err := client.Upsert(context.Background(), "Required documents", []float32{0.1, 0.2}, meta)
	if err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	second, err := client.Upsert(context.Background(), "Required documents v2", []float32{0.3, 0.4}, meta)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected 1 ensure call, got %d", got)
	}
	if first != second {
		t.Fatalf("named guideline should keep a stable id: %s != %s", first, second)
	}
	if len(lastPoints.Points) != 1 || lastPoints.Points[0].Payload["text"] != "Required documents v2" {
		t.Fatalf("unexpected upsert body: %+v", lastPoints)
	}
}

func TestUpsertTreatsConflictAsExistingCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/docs" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	id, err := client.Upsert(context.Background(), "scan", []float32{1}, map[string]any{"type": domain.IndexTypeStudentDocument})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
}

func TestSearchSendsTypeAndNameFilter(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode search: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.91,"payload":{"text":"Valid passport","type":"guideline","name":"residence_permit"}}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "docs", nil)
	passages, err := client.Search(context.Background(), []float32{0.1}, 1, domain.SearchFilter{
		Type: domain.IndexTypeGuideline,
		Name: "residence_permit",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(passages) != 1 || passages[0].Name() != "residence_permit" || passages[0].Text != "Valid passport" {
		t.Fatalf("passages = %+v", passages)
	}
	if _, ok := passages[0].Metadata["text"]; ok {
		t.Fatalf("text must not be duplicated into metadata")
	}

	filter, _ := body["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 2 {
		t.Fatalf("expected type and name conditions, got %+v", body["filter"])
	}
}

func TestSearchWithoutFilterOmitsFilter(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	if _, err := New(server.URL, "docs", nil).Search(context.Background(), []float32{0.1}, 3, domain.SearchFilter{}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if _, ok := body["filter"]; ok {
		t.Fatalf("filter must be omitted: %+v", body)
	}
}

func TestSearchMissingCollectionReturnsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	passages, err := New(server.URL, "docs", nil).Search(context.Background(), []float32{0.1}, 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(passages) != 0 {
		t.Fatalf("passages = %+v", passages)
	}
}

func TestSearchServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "docs", nil).Search(context.Background(), []float32{0.1}, 3, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
