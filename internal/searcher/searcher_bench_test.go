package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/docingest-mcp/internal/index"
	"github.com/dshills/docingest-mcp/pkg/types"
)

// BenchmarkSearch measures filtered search over indexes of increasing size
func BenchmarkSearch(b *testing.B) {
	for _, backend := range []string{index.BackendSQLite, index.BackendBadger} {
		for _, n := range []int{100, 1000} {
			b.Run(fmt.Sprintf("%s/passages=%d", backend, n), func(b *testing.B) {
				f := setupTestSearcher(b)
				idx, err := index.New(context.Background(), index.Config{Backend: backend})
				if err != nil {
					b.Fatal(err)
				}
				b.Cleanup(func() { _ = idx.Close() })
				f.idx = idx
				f.searcher = NewSearcher(idx, f.emb)

				paper := types.TypePaper
				year := 2020
				texts := make([]string, n)
				for i := range texts {
					texts[i] = fmt.Sprintf("passage %d discussing retrieval and ingestion topic %d", i, i%17)
				}
				f.seed(b, "bench", types.Metadata{PublicationYear: &year, DocumentType: &paper}, texts...)

				req := SearchRequest{
					Query:    "retrieval topic 5",
					Limit:    10,
					Filter:   types.Filter{DocumentTypes: []types.DocumentType{types.TypePaper}},
					UseCache: true,
				}
				ctx := context.Background()

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := f.searcher.Search(ctx, req); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
