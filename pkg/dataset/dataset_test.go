package dataset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"legal-rag-go/internal/config"
)

func TestFileSourceReadsTextField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.jsonl")
	content := `{"text":"An Act to amend title 10.","id":1}
{"text":"  keep  spacing\n"}

{"text":42}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := NewFile(path, "text").Load(context.Background(), "ignored", "train", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"An Act to amend title 10.", "  keep  spacing\n", "42"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i := range want {
		if records[i] != want[i] {
			t.Fatalf("record %d: expected %q, got %q", i, want[i], records[i])
		}
	}

	limited, _ := NewFile(path, "text").Load(context.Background(), "", "", 1)
	if len(limited) != 1 {
		t.Fatalf("limit not applied, got %d", len(limited))
	}
}

func TestFileSourceMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	_ = os.WriteFile(path, []byte(`{"body":"x"}`+"\n"), 0o644)
	if _, err := NewFile(path, "text").Load(context.Background(), "", "", 0); err == nil {
		t.Fatalf("expected error for missing field")
	}
}

func TestHuggingFacePaging(t *testing.T) {
	const total = 230
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/rows" || r.URL.Query().Get("dataset") != "c4lliope/us-congress" || r.URL.Query().Get("split") != "train" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		length, _ := strconv.Atoi(r.URL.Query().Get("length"))
		type row struct {
			RowIdx int               `json:"row_idx"`
			Row    map[string]string `json:"row"`
		}
		var rows []row
		for i := offset; i < offset+length && i < total; i++ {
			rows = append(rows, row{RowIdx: i, Row: map[string]string{"text": "bill " + strconv.Itoa(i)}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rows": rows, "num_rows_total": total})
	}))
	defer srv.Close()

	src := NewHuggingFace(config.DatasetConfig{BaseURL: srv.URL, TextField: "text"})
	records, err := src.Load(context.Background(), "c4lliope/us-congress", "train", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != total {
		t.Fatalf("expected %d records, got %d", total, len(records))
	}
	if records[0] != "bill 0" || records[229] != "bill 229" {
		t.Fatalf("records out of order: %q .. %q", records[0], records[229])
	}
	if calls != 3 {
		t.Fatalf("expected 3 pages, got %d", calls)
	}

	limited, err := src.Load(context.Background(), "c4lliope/us-congress", "train", 150)
	if err != nil {
		t.Fatalf("load limited: %v", err)
	}
	if len(limited) != 150 {
		t.Fatalf("expected 150 records, got %d", len(limited))
	}
}

func TestHuggingFaceUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHuggingFace(config.DatasetConfig{BaseURL: srv.URL, TextField: "text"}).Load(context.Background(), "x", "train", 0)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestObjectName(t *testing.T) {
	if got := objectName("datasets", "c4lliope/us-congress", "train"); got != "datasets/c4lliope/us-congress/train.jsonl" {
		t.Fatalf("unexpected object name %q", got)
	}
}

func TestStringifyNullAndScalarRecords(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, "None"},
		{"Sec. 1.", "Sec. 1."},
		{true, "True"},
		{false, "False"},
		{float64(42), "42"},
		{map[string]interface{}{"a": "b"}, `{"a":"b"}`},
	}
	for _, tc := range cases {
		if got := stringify(tc.in); got != tc.want {
			t.Fatalf("stringify(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileSourceKeepsNullRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	if err := os.WriteFile(path, []byte("{\"text\":\"a\"}\n{\"text\":null}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := NewFile(path, "text").Load(context.Background(), "", "", 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 2 || records[1] != "None" {
		t.Fatalf("unexpected records %q", records)
	}
}
