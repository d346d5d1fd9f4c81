package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/replay"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
)

// #region main
func main() {
	dbPath := flag.String("db", envOr("SYNC_DB", "meshsync.db"), "path to meshsync.db")
	linksPath := flag.String("links", "", "topology JSON: {\"links\": [...], \"coherence\": {...}}")
	decayHours := flag.Float64("decay", 0, "decay every link with this half-life in hours before loading")
	sever := flag.String("sever", "", "drop every link touching this node")
	flag.Parse()

	if *linksPath == "" && *decayHours <= 0 && *sever == "" {
		fmt.Fprintln(os.Stderr, "usage: bootstrap-topology --db meshsync.db --links topology.json [--decay hours] [--sever node]")
		os.Exit(2)
	}

	fmt.Println("=== Topology Bootstrap Tool ===")
	fmt.Printf("  DB: %s\n", *dbPath)

	store, err := state.NewStore(*dbPath, codec.StateHash)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	topoStore, err := topology.NewStore(store.DB())
	if err != nil {
		log.Fatalf("failed to init topology store: %v", err)
	}

	// Phase 1: maintenance on existing links
	if *decayHours > 0 {
		deleted, err := topoStore.DecayAll(*decayHours)
		if err != nil {
			log.Fatalf("decay: %v", err)
		}
		fmt.Printf("Decayed links (half-life %.1fh), %d pruned.\n", *decayHours, deleted)
	}
	if *sever != "" {
		if err := topoStore.SeverNode(*sever); err != nil {
			log.Fatalf("sever %s: %v", *sever, err)
		}
		fmt.Printf("Severed node %s.\n", *sever)
	}

	// Phase 2: load links from file
	if *linksPath != "" {
		data, err := os.ReadFile(*linksPath)
		if err != nil {
			log.Fatalf("read links: %v", err)
		}
		var topo replay.FixtureTopology
		if err := json.Unmarshal(data, &topo); err != nil {
			log.Fatalf("parse links: %v", err)
		}

		linkCount := 0
		for _, l := range topo.Links {
			if l.Symmetric {
				err = topoStore.Connect(l.Source, l.Target, l.Quality)
			} else {
				err = topoStore.SetLink(l.Source, l.Target, l.Quality)
			}
			if err != nil {
				log.Printf("link %s→%s: %v", l.Source, l.Target, err)
				continue
			}
			linkCount++
		}
		for n, c := range topo.Coherence {
			if err := topoStore.SetCoherence(n, c); err != nil {
				log.Printf("coherence %s: %v", n, err)
			}
		}
		fmt.Printf("Loaded %d links, %d coherence values.\n", linkCount, len(topo.Coherence))
	}

	// Summary
	top, err := topoStore.Load()
	if err != nil {
		log.Fatalf("load: %v", err)
	}
	links := top.Links()
	fmt.Printf("\nTopology now holds %d directed links:\n", len(links))
	for _, l := range links {
		fmt.Printf("  %-12s → %-12s %.3f\n", l.Source, l.Target, l.Quality)
	}
}

// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
