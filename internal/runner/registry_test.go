package runner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/joeumn/etsy-gen-sub000/internal/domain"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.StageScrape, Func(func(_ context.Context, _ uuid.UUID, _ domain.Metadata) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}))

	sr, err := reg.Lookup(domain.StageScrape)
	if err != nil {
		t.Fatal(err)
	}
	out, err := sr.Run(context.Background(), uuid.New(), domain.Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"ok":true}` {
		t.Errorf("result = %s", out)
	}

	if _, err := reg.Lookup(domain.StageList); err == nil {
		t.Error("lookup of unregistered stage should fail")
	}
}

func TestRegistryStages(t *testing.T) {
	reg := NewRegistry()
	noop := Func(func(_ context.Context, _ uuid.UUID, _ domain.Metadata) (json.RawMessage, error) {
		return nil, nil
	})
	reg.Register(domain.StageScrape, noop)
	reg.Register(domain.StageAnalyze, noop)

	stages := reg.Stages()
	if len(stages) != 2 {
		t.Fatalf("stages = %v", stages)
	}
	seen := map[domain.Stage]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	if !seen[domain.StageScrape] || !seen[domain.StageAnalyze] {
		t.Errorf("stages = %v", stages)
	}
}
