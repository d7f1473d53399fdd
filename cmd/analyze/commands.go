package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/OFFIS-RIT/regnet/internal/aiclient"
	"github.com/OFFIS-RIT/regnet/internal/db"
	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	"github.com/OFFIS-RIT/regnet/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/regnet/pkg/store/pgx"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

// source selects where a command reads its corpus from.
type source struct {
	corpusFile string
	useDB      bool
	withAI     bool
}

func (s *source) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.corpusFile, "corpus", "", "JSON file with the entity records")
	cmd.Flags().BoolVar(&s.useDB, "db", false, "Read the corpus from DATABASE_URL and store results there")
	cmd.Flags().BoolVar(&s.withAI, "ai", false, "Use the configured AI backend for cluster names and explanations")
}

// open returns the storage and a cleanup function.
func (s *source) open(ctx context.Context) (store.AnalysisStorage, func(), error) {
	switch {
	case s.useDB && s.corpusFile != "":
		return nil, nil, errors.New("--corpus and --db are mutually exclusive")
	case s.useDB:
		pool, err := pgstore.NewPool(ctx, util.GetEnv("DATABASE_URL"))
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewAnalysisDBStorageWithConnection(pool), pool.Close, nil
	case s.corpusFile != "":
		corpus, err := memory.LoadCorpusFile(s.corpusFile)
		if err != nil {
			return nil, nil, err
		}
		return memory.New(corpus), func() {}, nil
	default:
		return nil, nil, errors.New("one of --corpus or --db is required")
	}
}

func (s *source) engine() (*analysis.Engine, error) {
	params := analysis.NewEngineParams{Config: analysis.ConfigFromEnv()}
	if s.withAI {
		collab, err := aiclient.CollaboratorsFromEnv()
		if err != nil {
			return nil, err
		}
		if collab.Narrative != nil {
			params.Narrator = collab.Narrative
			params.Explainer = collab.Narrative
		}
	}
	return analysis.NewEngine(params)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "analyze",
		Short:         "Similarity and citation network analysis of a regulation corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newPassCommand())
	cmd.AddCommand(newPathCommand())
	cmd.AddCommand(newEgoCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newPassCommand() *cobra.Command {
	var (
		src   source
		req   analysis.PassRequest
		kind  string
		level string
	)
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one analysis pass and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			k, err := analysis.ParseKind(kind)
			if err != nil {
				return err
			}
			req.Kind = k
			if level != "" {
				if req.Level, err = common.ParseLevel(level); err != nil {
					return err
				}
			}
			if req.ID, err = gonanoid.New(); err != nil {
				return err
			}

			storage, closeFn, err := src.open(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			engine, err := src.engine()
			if err != nil {
				return err
			}
			corpus, err := storage.LoadCorpus(ctx)
			if err != nil {
				return err
			}

			var sink analysis.Sink
			if src.useDB {
				sink = storage
			}
			result, err := engine.Run(ctx, corpus, req, sink, nil)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&kind, "kind", string(analysis.KindFull), "Pass kind: similarity, cluster, citation, network or full")
	cmd.Flags().StringVar(&level, "level", "", "Hierarchy level for similarity and cluster passes")
	cmd.Flags().IntVar(&req.K, "k", 0, "Cluster count, 0 picks a default")
	cmd.Flags().Float64Var(&req.Threshold, "threshold", 0, "Network similarity threshold, 0 uses the configured one")
	cmd.Flags().IntVar(&req.MaxSections, "max-sections", 0, "Cap the network to the first N sections")
	cmd.Flags().Float64Var(&req.Damping, "damping", 0, "PageRank damping factor, 0 uses the configured one")
	cmd.Flags().IntVar(&req.Explain, "explain", 0, "Explain up to N redundant pairs per level (needs --ai)")
	return cmd
}

// networkFlags are the network selection flags shared by query commands.
type networkFlags struct {
	src    source
	params analysis.NetworkParams
}

func (f *networkFlags) register(cmd *cobra.Command) {
	f.src.register(cmd)
	cmd.Flags().Float64Var(&f.params.Threshold, "threshold", 0, "Similarity threshold, 0 uses the configured one")
	cmd.Flags().IntVar(&f.params.MaxSections, "max-sections", 0, "Cap the network to the first N sections")
}

func (f *networkFlags) build(ctx context.Context) (*network.Graph, error) {
	storage, closeFn, err := f.src.open(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	engine, err := f.src.engine()
	if err != nil {
		return nil, err
	}
	corpus, err := storage.LoadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	return engine.BuildNetwork(ctx, corpus, f.params)
}

func newPathCommand() *cobra.Command {
	var flags networkFlags
	cmd := &cobra.Command{
		Use:   "path <source> <target>",
		Short: "Print the shortest path between two sections",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			path := n.ShortestPath(args[0], args[1])
			if path == nil {
				return fmt.Errorf("no path from %s to %s", args[0], args[1])
			}
			return writeJSON(cmd.OutOrStdout(), path)
		},
	}
	flags.register(cmd)
	return cmd
}

func newEgoCommand() *cobra.Command {
	var (
		flags  networkFlags
		radius int
	)
	cmd := &cobra.Command{
		Use:   "ego <section>",
		Short: "Print the network around a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.build(cmd.Context())
			if err != nil {
				return err
			}
			ego, err := n.EgoNetwork(args[0], radius)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ego)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&radius, "radius", 1, "Hops from the center, 1 to 3")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := util.GetEnv("DATABASE_URL")
			if url == "" {
				return errors.New("DATABASE_URL is not set")
			}
			if down {
				return db.Rollback(url)
			}
			return db.Migrate(url)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "Roll back the last migration")
	return cmd
}
