package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/corpus"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}
}

func subjects(records []corpus.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Subject
	}
	return out
}

func TestEMLReader(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		raw := fmt.Sprintf("From: user%d@foo.org\nSubject: msg %d\n\nbody %d\n", i, i, i)
		writeFile(t, filepath.Join(dir, fmt.Sprintf("%02d.eml", i)), raw)
	}
	writeFile(t, filepath.Join(dir, "zz-broken.eml"), "not a message at all")

	reader := NewEMLReader(config.SourceConfig{
		Name: "inbox", Type: "eml", Path: dir, Estimate: 4,
	}, zap.NewNop())

	t.Run("window", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 1, 2)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got := subjects(records)
		if len(got) != 2 || got[0] != "msg 1" || got[1] != "msg 2" {
			t.Errorf("subjects = %v", got)
		}
	})

	t.Run("broken file skipped", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 4 {
			t.Errorf("got %d records, want 4 parseable ones", len(records))
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 50, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("got %d records past the end", len(records))
		}
	})

	t.Run("missing directory reads as exhausted", func(t *testing.T) {
		gone := NewEMLReader(config.SourceConfig{
			Name: "gone", Type: "eml", Path: filepath.Join(dir, "nope"),
		}, zap.NewNop())
		records, err := gone.Read(context.Background(), 0, 10)
		if err != nil || len(records) != 0 {
			t.Errorf("Read = %d records, %v", len(records), err)
		}
	})
}

func TestMboxReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "starred.mbox")
	mbox := "From alice Mon Jan  1 00:00:00 2001\n" +
		"From: alice@foo.org\n" +
		"Subject: first\n" +
		"\n" +
		"body one\n" +
		">From a quoted line\n" +
		"\n" +
		"From bob Mon Jan  1 00:00:00 2001\n" +
		"From: bob@foo.org\n" +
		"Subject: second\n" +
		"\n" +
		"body two\n" +
		"\n" +
		"From carol Mon Jan  1 00:00:00 2001\n" +
		"From: carol@foo.org\n" +
		"Subject: third\n" +
		"\n" +
		"body three\n"
	writeFile(t, path, mbox)

	reader := NewMboxReader(config.SourceConfig{
		Name: "starred", Type: "mbox", Path: path, Estimate: 3,
	}, zap.NewNop())

	t.Run("all messages", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got := subjects(records)
		want := []string{"first", "second", "third"}
		if len(got) != len(want) {
			t.Fatalf("subjects = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("subjects[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("offset window", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 1, 1)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 1 || records[0].Subject != "second" {
			t.Errorf("records = %v", subjects(records))
		}
	})

	t.Run("from-quoting undone", func(t *testing.T) {
		records, err := reader.Read(context.Background(), 0, 1)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("got %d records", len(records))
		}
		if !strings.Contains(records[0].Body, "From a quoted line") {
			t.Errorf("body = %q", records[0].Body)
		}
		if strings.Contains(records[0].Body, ">From") {
			t.Errorf("quoting survived: %q", records[0].Body)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		gone := NewMboxReader(config.SourceConfig{
			Name: "gone", Type: "mbox", Path: path + ".missing",
		}, zap.NewNop())
		if _, err := gone.Read(context.Background(), 0, 10); err == nil {
			t.Error("expected error for missing mbox")
		}
	})
}

func TestCSVReader(t *testing.T) {
	t.Run("direct columns", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "export.csv")
		writeFile(t, path, "subject,from,body\ns1,a@foo.org,b1\ns2,b@foo.org,b2\n")

		reader := NewCSVReader(config.SourceConfig{
			Name: "export", Type: "csv", Path: path,
		}, zap.NewNop())

		records, err := reader.Read(context.Background(), 1, 5)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 1 || records[0].Subject != "s2" || records[0].From != "b@foo.org" {
			t.Errorf("records = %+v", records)
		}
		if records[0].Source != "export" {
			t.Errorf("source = %q", records[0].Source)
		}
	})

	t.Run("message column", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "maildir.csv")
		file, err := os.Create(path)
		if err != nil {
			t.Fatalf("failed to create fixture: %v", err)
		}
		w := csv.NewWriter(file)
		rows := [][]string{
			{"file", "message"},
			{"allen-p/1.", "From: phillip.allen@enron.com\nSubject: test one\n\nraw body one\n"},
			{"allen-p/2.", "From: phillip.allen@enron.com\nSubject: test two\n\nraw body two\n"},
		}
		if err := w.WriteAll(rows); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
		if err := file.Close(); err != nil {
			t.Fatalf("failed to close fixture: %v", err)
		}

		reader := NewCSVReader(config.SourceConfig{
			Name: "maildir", Type: "csv", Path: path,
		}, zap.NewNop())

		records, err := reader.Read(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("got %d records", len(records))
		}
		if records[0].Subject != "test one" || records[0].Body != "raw body one" {
			t.Errorf("record = %+v", records[0])
		}
	})
}

func TestJSONReader(t *testing.T) {
	t.Run("array file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corpus.json")
		records := []corpus.Record{
			{Subject: "s1", From: "a@foo.org", Body: "b1"},
			{Subject: "s2", From: "b@foo.org", Body: "b2"},
			{Subject: "s3", From: "c@foo.org", Body: "b3"},
		}
		if err := corpus.WriteJSON(path, records); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}

		reader := NewJSONReader(config.SourceConfig{
			Name: "enron", Type: "json", Path: path, Estimate: 3,
		}, zap.NewNop())

		got, err := reader.Read(context.Background(), 1, 1)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 1 || got[0].Subject != "s2" || got[0].Source != "enron" {
			t.Errorf("records = %+v", got)
		}
	})

	t.Run("line-delimited file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "corpus.jsonl.json")
		writeFile(t, path,
			`{"subject":"l1","from":"a@foo.org","body":"b1"}`+"\n"+
				`{"subject":"l2","from":"b@foo.org","body":"b2"}`+"\n")

		reader := NewJSONReader(config.SourceConfig{
			Name: "stream", Type: "json", Path: path,
		}, zap.NewNop())

		got, err := reader.Read(context.Background(), 0, 10)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(got) != 2 || got[0].Subject != "l1" || got[1].Subject != "l2" {
			t.Errorf("records = %+v", got)
		}
	})

	t.Run("empty file reads as exhausted", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.json")
		writeFile(t, path, "")

		reader := NewJSONReader(config.SourceConfig{
			Name: "empty", Type: "json", Path: path,
		}, zap.NewNop())

		got, err := reader.Read(context.Background(), 0, 10)
		if err != nil || len(got) != 0 {
			t.Errorf("Read = %d records, %v", len(got), err)
		}
	})
}

func TestParquetReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.parquet")
	records := []corpus.Record{
		{Subject: "p1", From: "a@foo.org", Body: "b1", Source: "x"},
		{Subject: "p2", From: "b@foo.org", Body: "b2", Source: "x"},
		{Subject: "p3", From: "c@foo.org", Body: "b3", Source: "x"},
	}
	if err := corpus.WriteParquet(path, records); err != nil {
		t.Fatalf("WriteParquet failed: %v", err)
	}

	reader := NewParquetReader(config.SourceConfig{
		Name: "lake", Type: "parquet", Path: path, Estimate: 3,
	}, zap.NewNop())

	got, err := reader.Read(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 2 || got[0].Subject != "p2" || got[1].Subject != "p3" {
		t.Errorf("records = %+v", got)
	}
	if got[0].Source != "lake" {
		t.Errorf("source = %q, want reader name", got[0].Source)
	}

	past, err := reader.Read(context.Background(), 9, 5)
	if err != nil || len(past) != 0 {
		t.Errorf("Read past end = %d records, %v", len(past), err)
	}
}

func TestFactory(t *testing.T) {
	logger := zap.NewNop()

	t.Run("unsupported type", func(t *testing.T) {
		if _, err := New(config.SourceConfig{Name: "x", Type: "xml"}, logger); err == nil {
			t.Error("expected error for unsupported type")
		}
	})

	t.Run("order preserved", func(t *testing.T) {
		cfgs := []config.SourceConfig{
			{Name: "a", Type: "eml", Path: "a"},
			{Name: "b", Type: "mbox", Path: "b"},
			{Name: "c", Type: "json", Path: "c", Estimate: 7},
		}
		readers, err := NewAll(cfgs, logger)
		if err != nil {
			t.Fatalf("NewAll failed: %v", err)
		}
		if len(readers) != 3 {
			t.Fatalf("got %d readers", len(readers))
		}
		for i, want := range []string{"a", "b", "c"} {
			if readers[i].Name() != want {
				t.Errorf("readers[%d].Name() = %q, want %q", i, readers[i].Name(), want)
			}
		}
		if readers[2].Estimate() != 7 {
			t.Errorf("Estimate() = %d, want 7", readers[2].Estimate())
		}
	})
}
