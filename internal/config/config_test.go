package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ExactThreshold != 95 || cfg.FuzzyThreshold != 80 || cfg.AssistThreshold != 70 || cfg.FallbackFloor != 60 {
		t.Fatalf("threshold defaults wrong: %+v", cfg)
	}
	if cfg.MatchBatchSize != 50 {
		t.Fatalf("batch size = %d, want 50", cfg.MatchBatchSize)
	}
	if cfg.RetryBaseDelaySec != 30 {
		t.Fatalf("retry base delay = %d, want 30", cfg.RetryBaseDelaySec)
	}
	if cfg.TargetFramework != "us-gaap" || cfg.TargetCurrency != "USD" {
		t.Fatalf("target defaults wrong: %q %q", cfg.TargetFramework, cfg.TargetCurrency)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if !cfg.ReviewExport {
		t.Fatal("review export should default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MATCH_FUZZY_THRESHOLD", "85.5")
	t.Setenv("WORKER_BATCH", "5")
	t.Setenv("REVIEW_EXPORT", "off")
	t.Setenv("MATCH_BATCH_SIZE", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FuzzyThreshold != 85.5 {
		t.Fatalf("fuzzy threshold = %v, want 85.5", cfg.FuzzyThreshold)
	}
	if cfg.WorkerBatch != 5 {
		t.Fatalf("worker batch = %d, want 5", cfg.WorkerBatch)
	}
	if cfg.ReviewExport {
		t.Fatal("review export should be off")
	}
	// Unparseable values fall back to the default.
	if cfg.MatchBatchSize != 50 {
		t.Fatalf("batch size = %d, want 50", cfg.MatchBatchSize)
	}
}
