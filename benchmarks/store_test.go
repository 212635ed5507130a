package benchmarks

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/attribution/pkg/attribution"
	"github.com/randalmurphal/attribution/pkg/attribution/store"
)

func createSQLiteStore(b *testing.B) *store.SQLiteStore {
	b.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { st.Close() })
	return st
}

// BenchmarkSQLiteStore_AppendDecisions appends batches of 1k decisions.
func BenchmarkSQLiteStore_AppendDecisions(b *testing.B) {
	st := createSQLiteStore(b)
	batch := generateDecisions(1_000, 200, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := st.AppendDecisions(batch...); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSQLiteStore_Decisions reads 10k decisions back.
func BenchmarkSQLiteStore_Decisions(b *testing.B) {
	st := createSQLiteStore(b)
	if err := st.AppendDecisions(generateDecisions(10_000, 2_000, 10)...); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = st.Decisions(ctx, attribution.AllTime())
	}
}

// BenchmarkPipeline_Memory runs the Full-Stack pipeline over an in-memory store.
func BenchmarkPipeline_Memory(b *testing.B) {
	st := store.NewMemoryStore()
	_ = st.AppendDecisions(generateDecisions(10_000, 2_000, 10)...)
	_ = st.AppendConversions(generateConversions(10_000, 2_000, 10)...)
	p := attribution.NewPipeline(st, attribution.WithSink(st), attribution.WithLogger(slog.New(slog.DiscardHandler)))
	cfg := benchConfig(attribution.PolicyFullStack)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Run(ctx, cfg)
	}
}

// BenchmarkPipeline_SQLite runs the Full-Stack pipeline over SQLite, including the write.
func BenchmarkPipeline_SQLite(b *testing.B) {
	st := createSQLiteStore(b)
	_ = st.AppendDecisions(generateDecisions(10_000, 2_000, 10)...)
	_ = st.AppendConversions(generateConversions(10_000, 2_000, 10)...)
	p := attribution.NewPipeline(st, attribution.WithSink(st), attribution.WithLogger(slog.New(slog.DiscardHandler)))
	cfg := benchConfig(attribution.PolicyFullStack)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Run(ctx, cfg)
	}
}
