// util/util_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestErrorLogger(t *testing.T) {
	var e ErrorLogger
	if e.HaveErrors() || e.Err() != nil {
		t.Errorf("fresh ErrorLogger reports errors")
	}

	e.Push("airport KDEMO")
	e.Push("runway 09")
	e.ErrorString("hold node %d not found", 12)
	e.Pop()
	e.Error(errors.New("graph is disconnected"))
	e.Pop()

	if !e.HaveErrors() {
		t.Fatalf("expected errors")
	}
	errs := e.Errors()
	expected := []string{
		"airport KDEMO / runway 09: hold node 12 not found",
		"airport KDEMO: graph is disconnected",
	}
	if len(errs) != len(expected) {
		t.Fatalf("got %d errors, expected %d", len(errs), len(expected))
	}
	for i := range errs {
		if errs[i] != expected[i] {
			t.Errorf("error %d: got %q, expected %q", i, errs[i], expected[i])
		}
	}
	if e.CurrentDepth() != 0 {
		t.Errorf("got depth %d, expected 0", e.CurrentDepth())
	}
	if err := e.Err(); err == nil || !strings.Contains(err.Error(), "disconnected") {
		t.Errorf("Err() got %v, expected joined errors", err)
	}
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer[int](3)
	if r.Size() != 0 {
		t.Errorf("got size %d, expected 0", r.Size())
	}
	r.Add(1, 2)
	if r.Size() != 2 || r.Get(0) != 1 || r.Get(1) != 2 {
		t.Errorf("unexpected contents after 2 adds")
	}
	r.Add(3, 4, 5)
	if r.Size() != 3 {
		t.Errorf("got size %d, expected 3", r.Size())
	}
	for i, v := range []int{3, 4, 5} {
		if r.Get(i) != v {
			t.Errorf("Get(%d) got %d, expected %d", i, r.Get(i), v)
		}
	}
}

type compressedThing struct {
	Name   string
	Points [][2]float32
	When   time.Time
	Counts map[string]int
}

func TestCompressedRoundTrip(t *testing.T) {
	in := compressedThing{
		Name:   "KDEMO",
		Points: [][2]float32{{1, 2}, {-300.5, 12}},
		When:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Counts: map[string]int{"09": 2, "27": 0},
	}

	var buf bytes.Buffer
	if err := EncodeCompressed(&buf, in); err != nil {
		t.Fatalf("EncodeCompressed: %v", err)
	}

	var out compressedThing
	if err := DecodeCompressed(&buf, &out); err != nil {
		t.Fatalf("DecodeCompressed: %v", err)
	}
	if out.Name != in.Name || len(out.Points) != 2 || out.Points[1] != in.Points[1] ||
		!out.When.Equal(in.When) || out.Counts["09"] != 2 {
		t.Errorf("got %+v, expected %+v", out, in)
	}

	if err := DecodeCompressed(strings.NewReader("not zstd"), &out); err == nil {
		t.Errorf("expected error decoding garbage")
	}
}

func TestStoreRetrieveCull(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.ckpt", "b.ckpt", "c.ckpt"} {
		path := filepath.Join(dir, name)
		if err := StoreObject(path, compressedThing{Name: name}); err != nil {
			t.Fatalf("StoreObject: %v", err)
		}
		when := time.Now().Add(time.Duration(i-10) * time.Minute)
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatal(err)
		}
	}

	var got compressedThing
	if _, err := RetrieveObject(filepath.Join(dir, "b.ckpt"), &got); err != nil {
		t.Fatalf("RetrieveObject: %v", err)
	} else if got.Name != "b.ckpt" {
		t.Errorf("got name %q, expected %q", got.Name, "b.ckpt")
	}

	if err := CullObjects(dir, 2); err != nil {
		t.Fatalf("CullObjects: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.ckpt")); !os.IsNotExist(err) {
		t.Errorf("expected oldest checkpoint to be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "c.ckpt")); err != nil {
		t.Errorf("newest checkpoint missing: %v", err)
	}
}

type checkedConfig struct {
	Name     string         `json:"name"`
	Interval Duration       `json:"interval"`
	Limits   map[string]int `json:"limits"`
	Items    []struct {
		ID int `json:"id"`
	} `json:"items"`
}

func TestCheckJSON(t *testing.T) {
	var e ErrorLogger
	CheckJSON[checkedConfig]([]byte(`{"name": "x", "interval": "2s", "limits": {"a": 1}, "items": [{"id": 1}]}`), &e)
	if e.HaveErrors() {
		t.Errorf("unexpected errors: %s", e.String())
	}

	e = ErrorLogger{}
	CheckJSON[checkedConfig]([]byte(`{"name": "x", "intervl": "2s", "items": [{"idd": 1}]}`), &e)
	if len(e.Errors()) != 2 {
		t.Errorf("got errors %v, expected two misspellings", e.Errors())
	}

	e = ErrorLogger{}
	CheckJSON[checkedConfig]([]byte("{\n\"name\": }"), &e)
	if !e.HaveErrors() || !strings.Contains(e.String(), "line 2") {
		t.Errorf("got %q, expected a syntax error on line 2", e.String())
	}
}

func TestDuration(t *testing.T) {
	var c checkedConfig
	if err := UnmarshalJSONBytes([]byte(`{"interval": "250ms"}`), &c); err != nil {
		t.Fatal(err)
	}
	if c.Interval.D() != 250*time.Millisecond {
		t.Errorf("got %v, expected 250ms", c.Interval.D())
	}
	if err := UnmarshalJSONBytes([]byte(`{"interval": 250}`), &c); err == nil {
		t.Errorf("expected error for numeric duration")
	}
}
