package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
	"gorgonia.org/tensor"

	"gonorm/dataset"
	"gonorm/normalizer"
)

type fitOptions struct {
	data      string
	batchSize int
	classes   int
	strategy  string
	lower     float64
	upper     float64
	fitLabels bool
	out       string
	verify    bool
}

// report is the YAML document written by fit.
type report[S any] struct {
	Strategy  string `yaml:"strategy"`
	FitLabels bool   `yaml:"fit_labels"`
	Features  []S    `yaml:"features"`
	Labels    []S    `yaml:"labels,omitempty"`
}

func newFitCmd(newLogger func(*cobra.Command) (*log.Logger, error)) *cobra.Command {
	opts := fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Compute normalization statistics over a CIFAR-10 style binary file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd)
			if err != nil {
				return err
			}
			return runFit(opts, cmd.OutOrStdout(), logger)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.data, "data", "", "path to the binary record file")
	f.IntVar(&opts.batchSize, "batch-size", 1000, "records per batch")
	f.IntVar(&opts.classes, "classes", dataset.NumClasses, "number of label classes")
	f.StringVar(&opts.strategy, "strategy", "standardize", "normalization strategy (standardize, minmax)")
	f.Float64Var(&opts.lower, "min", 0, "lower bound of the minmax target range")
	f.Float64Var(&opts.upper, "max", 1, "upper bound of the minmax target range")
	f.BoolVar(&opts.fitLabels, "fit-labels", false, "also normalize labels")
	f.StringVar(&opts.out, "out", "", "write statistics as YAML to this file instead of stdout")
	f.BoolVar(&opts.verify, "verify", false, "check preprocess and revert round trip on the first batch")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runFit(opts fitOptions, stdout io.Writer, logger *log.Logger) error {
	file, err := os.Open(opts.data)
	if err != nil {
		return err
	}
	defer file.Close()

	it, err := dataset.NewCIFARIterator(file, opts.batchSize, opts.classes)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.data, err)
	}
	logger.Info("loaded dataset", "path", opts.data, "records", it.Records(), "batch_size", opts.batchSize)

	switch opts.strategy {
	case "standardize":
		return fitAndReport(normalizer.NewStandardize(), it, opts, stdout, logger)
	case "minmax":
		n, err := normalizer.NewMinMax(opts.lower, opts.upper)
		if err != nil {
			return err
		}
		return fitAndReport(n, it, opts, stdout, logger)
	default:
		return fmt.Errorf("unknown strategy %q", opts.strategy)
	}
}

func fitAndReport[A, S any](n *normalizer.MultiArrayNormalizer[A, S], it normalizer.Iterator,
	opts fitOptions, stdout io.Writer, logger *log.Logger) error {
	n.FitLabel(opts.fitLabels)
	if err := n.FitIterator(it); err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	rep := report[S]{Strategy: opts.strategy, FitLabels: opts.fitLabels}
	featureStats, err := n.FeatureStats()
	if err != nil {
		return err
	}
	rep.Features = slots(featureStats)
	if opts.fitLabels {
		labelStats, err := n.LabelStats()
		if err != nil {
			return err
		}
		rep.Labels = slots(labelStats)
	}
	logger.Info("fitted", "strategy", opts.strategy, "inputs", len(rep.Features), "outputs", len(rep.Labels))

	if opts.verify {
		diff, err := roundTrip(n, it)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		logger.Info("round trip", "max_abs_error", diff)
	}

	out, err := yaml.Marshal(rep)
	if err != nil {
		return err
	}
	if opts.out == "" {
		_, err = stdout.Write(out)
		return err
	}
	if err := os.WriteFile(opts.out, out, 0o644); err != nil {
		return err
	}
	logger.Debug("wrote statistics", "path", opts.out)
	return nil
}

func slots[S any](set *normalizer.StatsSet[S]) []S {
	out := make([]S, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		s, _ := set.At(i)
		out = append(out, s)
	}
	return out
}

// roundTrip preprocesses and reverts the first batch and returns the largest
// absolute difference from the original values.
func roundTrip[A, S any](n *normalizer.MultiArrayNormalizer[A, S], it normalizer.Iterator) (float64, error) {
	if err := it.Reset(); err != nil {
		return 0, err
	}
	if !it.HasNext() {
		return 0, errors.New("no batches")
	}
	b, err := it.Next()
	if err != nil {
		return 0, err
	}
	var arrays, originals []*tensor.Dense
	for i := 0; i < b.NumFeatureArrays(); i++ {
		arrays = append(arrays, b.Features(i))
	}
	for i := 0; i < b.NumLabelsArrays(); i++ {
		arrays = append(arrays, b.Labels(i))
	}
	for _, arr := range arrays {
		originals = append(originals, arr.Clone().(*tensor.Dense))
	}

	if err := n.PreProcess(b); err != nil {
		return 0, err
	}
	if err := n.Revert(b); err != nil {
		return 0, err
	}

	var worst float64
	for i, arr := range arrays {
		worst = math.Max(worst, floats.Distance(float64s(originals[i]), float64s(arr), math.Inf(1)))
	}
	return worst, nil
}

func float64s(t *tensor.Dense) []float64 {
	switch d := t.Data().(type) {
	case []float64:
		return d
	case []float32:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}
