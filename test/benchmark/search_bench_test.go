// Package benchmark holds micro and macro benchmarks for the text pipeline
// and the search engine, all against the in-memory store so numbers reflect
// engine work, not network round trips.
//
// Run with:
//
//	go test -bench=. -benchmem ./test/benchmark/...
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/fuzzy"
	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/internal/store/memstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
)

var sampleQueries = []string{
	"rue des lilas andresy",
	"8 boulevard victor hugo lyon",
	"avenue du général de gaulle",
	"place de la république paris",
	"rue du 8 mai 1945 troyes",
}

var streetNames = []string{
	"Rue des Lilas", "Rue des Tilleuls", "Avenue de la République",
	"Boulevard Victor Hugo", "Place de la Mairie", "Rue de la Gare",
	"Rue du 8 Mai 1945", "Avenue du Général de Gaulle", "Rue Pasteur",
	"Chemin des Vignes",
}

var cityNames = []string{
	"Andrésy", "Troyes", "Lyon", "Paris", "Nantes",
	"Bordeaux", "Lille", "Strasbourg", "Rennes", "Dijon",
}

func buildCorpus(n int) []*document.Document {
	docs := make([]*document.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, &document.Document{
			ID:         fmt.Sprintf("street-%d", i),
			Type:       "street",
			Name:       streetNames[i%len(streetNames)],
			City:       cityNames[(i/len(streetNames))%len(cityNames)],
			Postcode:   fmt.Sprintf("%05d", 10000+i%90000),
			Lat:        42 + float64(i%700)/100,
			Lon:        -1 + float64(i%600)/100,
			Importance: float64(i%100) / 100,
		})
	}
	return docs
}

func newEngine(b *testing.B, corpusSize int) *search.Engine {
	b.Helper()
	cfg, err := config.Load("")
	if err != nil {
		b.Fatalf("loading defaults: %v", err)
	}
	st := memstore.New()
	pipeline := textpipe.New(nil)
	w := indexer.New(st, pipeline, cfg.Search, cfg.Index)
	if err := w.IndexAll(context.Background(), buildCorpus(corpusSize)); err != nil {
		b.Fatalf("indexing corpus: %v", err)
	}
	return search.New(st, pipeline, cfg.Search, cfg.Index)
}

func BenchmarkPipelineProcess(b *testing.B) {
	p := textpipe.New(nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tokens := p.Process(sampleQueries[i%len(sampleQueries)])
		_ = tokens
	}
}

func BenchmarkNormalizeString(b *testing.B) {
	inputs := []string{"Andrésy", "Boulevard Général Leclerc", "Saint-Étienne", "plain ascii street"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = textpipe.NormalizeString(inputs[i%len(inputs)])
	}
}

func BenchmarkEdgeNgrams(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = textpipe.EdgeNgrams("boulevard", 3, 20)
	}
}

func BenchmarkFuzzyNeighbors(b *testing.B) {
	words := []string{"rue", "lilas", "andresy", "boulevard", "republique"}
	gen := fuzzy.NewGenerator()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = gen.Neighbors(words[i%len(words)])
	}
}

func BenchmarkFuzzyNeighborsKeyboard(b *testing.B) {
	gen := fuzzy.NewGeneratorWithLayout("azerty")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = gen.Neighbors("andresy")
	}
}

func BenchmarkIndexDocument(b *testing.B) {
	cfg, err := config.Load("")
	if err != nil {
		b.Fatalf("loading defaults: %v", err)
	}
	st := memstore.New()
	w := indexer.New(st, textpipe.New(nil), cfg.Search, cfg.Index)
	docs := buildCorpus(1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc := docs[i%len(docs)]
		if err := w.Index(context.Background(), doc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("corpus_%d", size), func(b *testing.B) {
			e := newEngine(b, size)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, err := e.Search(context.Background(), search.Query{
					Text: sampleQueries[i%len(sampleQueries)],
				})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSearchFuzzy(b *testing.B) {
	e := newEngine(b, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := e.Search(context.Background(), search.Query{Text: "rue des lilsa", Fuzzy: 1})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	e := newEngine(b, 1000)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, err := e.Search(context.Background(), search.Query{
				Text: sampleQueries[i%len(sampleQueries)],
			})
			if err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

func BenchmarkReverse(b *testing.B) {
	e := newEngine(b, 1000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := e.Reverse(context.Background(), 45.5, 1.5, 5, nil)
		if err != nil {
			b.Fatal(err)
		}
	}
}
