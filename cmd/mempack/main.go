package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maurocanuto/mempack/internal/embedder"
	"github.com/maurocanuto/mempack/internal/encoder"
	"github.com/maurocanuto/mempack/internal/mempackcfg"
	"github.com/maurocanuto/mempack/internal/packreader"
	"github.com/maurocanuto/mempack/internal/retriever"
	"github.com/maurocanuto/mempack/internal/watcher"
)

var (
	defaultConfigPath = ".mempack.toml"
	defaultPackPath   = "kb.mempack"
	defaultAnnPath    = "kb.mpann"
)

func main() {
	root := &cobra.Command{
		Use:   "mempack",
		Short: "Build and search portable semantic memory packs",
		Long:  "mempack — chunk, embed, and index documents into a single-file semantic memory pack with an HNSW sidecar.",
	}

	var configPath string
	var packPath string
	var annPath string
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to a TOML config file")
	root.PersistentFlags().StringVar(&packPath, "pack", defaultPackPath, "pack file path")
	root.PersistentFlags().StringVar(&annPath, "ann", defaultAnnPath, "ANN sidecar file path")

	loadConfig := func() (mempackcfg.Config, error) {
		return mempackcfg.Load(configPath)
	}

	// newEmbedder builds the configured embedder, wrapped in a query
	// cache, printing status since loading an ONNX model can take a
	// couple of seconds on first run.
	newEmbedder := func(cfg mempackcfg.Config) (embedder.Embedder, error) {
		var inner embedder.Embedder
		if cfg.Embedding.Model == "" || cfg.Embedding.Model == "static" {
			inner = embedder.NewStaticEmbedder()
		} else {
			fmt.Fprint(os.Stderr, "Loading model… ")
			te, err := embedder.NewTransformerEmbedder(embedder.TransformerOptions{
				ModelDir:   cfg.Embedding.Model,
				OrtLibPath: cfg.Embedding.OrtLibPath,
				NumThreads: cfg.Embedding.Threads,
				Dim:        embedder.StaticDimensions,
				ModelName:  filepath.Base(cfg.Embedding.Model),
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return nil, err
			}
			fmt.Fprintln(os.Stderr, "ready.")
			inner = te
		}
		return embedder.NewCachedEmbedder(inner, cfg.Embedding.CacheSize), nil
	}

	// ---- mempack build <dir|file> [...] ------------------------------------
	buildCmd := &cobra.Command{
		Use:   "build <path> [path...]",
		Short: "Chunk, embed, and write a pack + ANN sidecar from files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			enc := encoder.New(emb, cfg)
			for _, p := range args {
				fi, err := os.Stat(p)
				if err != nil {
					return fmt.Errorf("stat %s: %w", p, err)
				}
				if fi.IsDir() {
					fmt.Fprintf(os.Stderr, "Scanning %s…\n", p)
					if err := enc.AddDirectory(p, "*.txt,*.md"); err != nil {
						return err
					}
					continue
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read %s: %w", p, err)
				}
				rel := filepath.Base(p)
				enc.AddText(string(data), map[string]any{"source": rel})
			}

			stats, err := enc.Build(ctx, packPath, annPath)
			if err != nil {
				if isInterrupted(err) {
					fmt.Fprintln(os.Stderr, "\nInterrupted — no partial pack was written.")
					return nil
				}
				return err
			}
			fmt.Fprintf(os.Stderr, "Done. %d chunks in %d blocks, %d bytes, built in %dms.\n",
				stats.Chunks, stats.Blocks, stats.BytesWritten, stats.BuildTimeMS)
			return nil
		},
	}
	root.AddCommand(buildCmd)

	// ---- mempack search <query> ---------------------------------------------
	var topK int
	var jsonOut bool
	var filterPairs []string
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search a pack for the top matching chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			filter, err := parseFilter(filterPairs)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			r, err := retriever.Open(packPath, annPath, emb, retriever.Options{
				EfSearch:         cfg.Index.HNSW.EfSearch,
				BlockCacheBudget: cfg.Pack.BlockCacheBudget,
			})
			if err != nil {
				return err
			}
			defer r.Close()

			hits, err := r.Search(context.Background(), query, topK, filter)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				if jsonOut {
					fmt.Println("[]")
				} else {
					fmt.Println("no results")
				}
				return nil
			}
			if jsonOut {
				j, err := json.MarshalIndent(hits, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal json: %w", err)
				}
				fmt.Println(string(j))
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%2d  %.3f  chunk #%d  %v\n    %s\n\n", i+1, h.Score, h.ID, h.Meta, truncate(h.Text, 200))
			}
			return nil
		},
	}
	searchCmd.Flags().IntVar(&topK, "top-k", 10, "number of results to return")
	searchCmd.Flags().BoolVar(&jsonOut, "json", false, "output results as JSON")
	searchCmd.Flags().StringArrayVar(&filterPairs, "filter", nil, "metadata filter k=v (repeatable)")
	root.AddCommand(searchCmd)

	// ---- mempack verify ------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify every block's checksum in the pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			r, err := retriever.Open(packPath, annPath, emb, retriever.DefaultOptions())
			if err != nil {
				return err
			}
			defer r.Close()

			ok, badBlock, err := r.Verify()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("CORRUPT: block %d failed checksum verification.\n", badBlock)
				os.Exit(1)
			}
			fmt.Println("OK: all blocks verified.")
			return nil
		},
	})

	// ---- mempack stats --------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pack statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := packreader.Open(packPath, 0)
			if err != nil {
				return err
			}
			defer r.Close()

			h := r.Header()
			blocks := r.Blocks()
			var compressed, uncompressed uint64
			for _, b := range blocks {
				compressed += b.CompressedSize
				uncompressed += b.UncompressedSize
			}
			fmt.Printf("model:      %s\n", h.ModelName)
			fmt.Printf("dimensions: %d\n", h.Dim)
			fmt.Printf("chunks:     %d\n", h.NChunks)
			fmt.Printf("blocks:     %d\n", h.NBlocks)
			if uncompressed > 0 {
				fmt.Printf("compression ratio: %.2fx\n", float64(uncompressed)/float64(compressed))
			}
			return nil
		},
	})

	// ---- mempack watch <dir> ----------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch <dir>",
		Short: "Build a pack from dir, then watch it and rebuild on change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			emb, err := newEmbedder(cfg)
			if err != nil {
				return err
			}
			defer emb.Close()

			dir := args[0]
			enc := encoder.New(emb, cfg)
			if err := enc.AddDirectory(dir, "*.txt,*.md"); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Building initial pack from %s…\n", dir)
			stats, err := enc.Build(ctx, packPath, annPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Done. %d chunks indexed. Watching for changes… (Ctrl+C to stop)\n", stats.Chunks)

			w, err := watcher.New(dir, "*.txt,*.md", packPath, annPath, emb, cfg)
			if err != nil {
				return err
			}
			w.OnRebuild(func(chunks int, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "[watch] rebuild failed: %v\n", err)
					return
				}
				fmt.Fprintf(os.Stderr, "[watch] rebuilt — %d chunks\n", chunks)
			})
			return w.Watch(ctx)
		},
	})

	// ---- mempack bench ----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Benchmark tokenizer and ONNX inference speed on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Embedding.Model == "" || cfg.Embedding.Model == "static" {
				return errors.New("bench requires a transformer model; set embedding.model in the config")
			}
			fmt.Fprint(os.Stderr, "Loading model… ")
			te, err := embedder.NewTransformerEmbedder(embedder.TransformerOptions{
				ModelDir:   cfg.Embedding.Model,
				OrtLibPath: cfg.Embedding.OrtLibPath,
				NumThreads: cfg.Embedding.Threads,
				Dim:        embedder.StaticDimensions,
				ModelName:  filepath.Base(cfg.Embedding.Model),
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "")
				return err
			}
			defer te.Close()
			fmt.Fprintln(os.Stderr, "ready.")

			texts := []struct {
				label string
				text  string
			}{
				{"short (9 words)   ", "the quick brown fox jumps over the lazy dog"},
				{"medium (200 words)", strings.Repeat("the quick brown fox ", 50)},
				{"long (180 words)  ", strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)},
			}

			fmt.Printf("\n%-20s  %10s  %10s  %10s\n", "text size", "tokenize", "inference", "total")
			fmt.Println(strings.Repeat("-", 55))
			for _, tc := range texts {
				tok, inf, tot, err := te.BenchmarkSingle(tc.text)
				if err != nil {
					return fmt.Errorf("bench %s: %w", tc.label, err)
				}
				fmt.Printf("%-20s  %10s  %10s  %10s\n", tc.label,
					tok.Round(time.Millisecond),
					inf.Round(time.Millisecond),
					tot.Round(time.Millisecond))
			}
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// parseFilter turns repeated "k=v" flag values into a metadata filter
// map. A nil/empty pairs disables filtering.
func parseFilter(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filter := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --filter %q: expected k=v", p)
		}
		filter[k] = v
	}
	return filter, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
