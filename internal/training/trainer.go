package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/cdss-mcp-server/internal/domain"
	"github.com/cdss-mcp-server/internal/features"
	"github.com/cdss-mcp-server/internal/metrics"
	"github.com/cdss-mcp-server/internal/model"
)

// FoldScore is the held-out performance of one (seed, fold) fit.
type FoldScore struct {
	Seed   int64   `json:"seed"`
	Fold   int     `json:"fold"`
	AUC    float64 `json:"auc"`
	Recall float64 `json:"recall"`
}

// CandidateScore aggregates the cross-validation folds of one candidate.
type CandidateScore struct {
	Candidate  Candidate   `json:"candidate"`
	MeanAUC    float64     `json:"mean_auc"`
	StdAUC     float64     `json:"std_auc"`
	MeanRecall float64     `json:"mean_recall"`
	Folds      []FoldScore `json:"folds"`
}

// Report summarises a successful training run.
type Report struct {
	TrainSize      int              `json:"train_size"`
	ValidationSize int              `json:"validation_size"`
	TestSize       int              `json:"test_size"`
	Scores         []CandidateScore `json:"scores"`
	Selected       Candidate        `json:"selected"`
	Fits           int              `json:"fits"`
	Duration       time.Duration    `json:"duration"`
}

// Trainer runs the training protocol. A Trainer is not reentrant: callers
// serialise Fit calls.
type Trainer struct {
	builder *features.Builder
	cfg     Config
	logger  *logrus.Logger
}

// NewTrainer validates cfg and binds it to a feature builder.
func NewTrainer(builder *features.Builder, cfg Config, logger *logrus.Logger) (*Trainer, error) {
	if builder == nil {
		return nil, fmt.Errorf("trainer needs a feature builder")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Trainer{builder: builder, cfg: cfg, logger: logger}, nil
}

// Fit trains, selects and freezes an artifact. On any error no artifact is
// returned.
func (t *Trainer) Fit(ctx context.Context, cohort []Example) (*model.Artifact, error) {
	a, _, err := t.FitWithReport(ctx, cohort)
	return a, err
}

// FitWithReport is Fit plus the cross-validation report.
func (t *Trainer) FitWithReport(ctx context.Context, cohort []Example) (*model.Artifact, *Report, error) {
	return t.run(ctx, func(ctx context.Context, r *trainingRun) (*model.Artifact, *Report, error) {
		return r.execute(ctx, cohort)
	})
}

// LabeledVector is a prebuilt feature vector with its outcome.
type LabeledVector struct {
	Vector features.Vector
	Label  bool
}

// FitVectors trains on vectors that were already built. Every vector must
// carry the trainer's builder schema, otherwise a SchemaMismatchError is
// returned before any fit.
func (t *Trainer) FitVectors(ctx context.Context, rows []LabeledVector) (*model.Artifact, error) {
	a, _, err := t.FitVectorsWithReport(ctx, rows)
	return a, err
}

// FitVectorsWithReport is FitVectors plus the cross-validation report.
func (t *Trainer) FitVectorsWithReport(ctx context.Context, rows []LabeledVector) (*model.Artifact, *Report, error) {
	return t.run(ctx, func(ctx context.Context, r *trainingRun) (*model.Artifact, *Report, error) {
		names := r.builder.Schema().Names()
		vectors := make([]features.Vector, len(rows))
		labels := make([]bool, len(rows))
		for i, row := range rows {
			if !row.Vector.HasNames(names) {
				return nil, nil, &domain.SchemaMismatchError{
					Expected: names,
					Got:      row.Vector.Names(),
					Reason:   fmt.Sprintf("training row %d does not match the builder schema", i),
				}
			}
			vectors[i] = row.Vector
			labels[i] = row.Label
		}
		if err := r.precheck(labels); err != nil {
			return nil, nil, err
		}
		return r.train(ctx, vectors, labels)
	})
}

func (t *Trainer) run(ctx context.Context, body func(context.Context, *trainingRun) (*model.Artifact, *Report, error)) (*model.Artifact, *Report, error) {
	start := time.Now()
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	run := &trainingRun{Trainer: t, start: start}
	artifact, report, err := body(ctx, run)
	if err != nil {
		metrics.RecordTrainingFailure(failureReason(err))
		t.logger.WithError(err).WithField("elapsed", time.Since(start)).Error("Training failed")
		return nil, nil, err
	}

	metrics.RecordTraining(report.Duration, artifact.Provenance().Test.AUC)
	return artifact, report, nil
}

type trainingRun struct {
	*Trainer
	start time.Time
	fits  atomic.Int64
}

func (r *trainingRun) execute(ctx context.Context, cohort []Example) (*model.Artifact, *Report, error) {
	records := make([]domain.PatientRecord, len(cohort))
	labels := make([]bool, len(cohort))
	for i, ex := range cohort {
		records[i] = ex.Record
		labels[i] = ex.Label
	}
	if err := r.precheck(labels); err != nil {
		return nil, nil, err
	}

	vectors, err := r.builder.BuildAll(records)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build features: %w", err)
	}
	return r.train(ctx, vectors, labels)
}

// precheck rejects cohorts that cannot be trained before any work is done.
func (r *trainingRun) precheck(labels []bool) error {
	if err := r.checkClasses(labels, "cohort"); err != nil {
		return err
	}
	if r.cfg.MaxFits > 0 && r.cfg.plannedFits() > r.cfg.MaxFits {
		return &domain.TrainingTimeoutError{
			Elapsed:   time.Since(r.start),
			FitsLimit: r.cfg.MaxFits,
		}
	}
	return nil
}

func (r *trainingRun) train(ctx context.Context, vectors []features.Vector, labels []bool) (*model.Artifact, *Report, error) {
	cfg := r.cfg
	x := make([][]float64, len(vectors))
	for i, v := range vectors {
		x[i] = v.Values()
	}

	split := stratifiedSplit(labels, cfg.SplitSeed)
	trainX, trainY := gather(x, labels, split.train)
	valX, valY := gather(x, labels, split.validation)
	testX, testY := gather(x, labels, split.test)

	r.logger.WithFields(logrus.Fields{
		"cohort":     len(labels),
		"train":      len(trainX),
		"validation": len(valX),
		"test":       len(testX),
		"candidates": len(cfg.Grid),
		"folds":      cfg.Folds,
		"seeds":      len(cfg.Seeds),
		"resampling": cfg.Resampling.String(),
	}).Info("Starting training")

	if err := r.checkClasses(trainY, "training split"); err != nil {
		return nil, nil, err
	}
	if err := r.checkVariance(trainX); err != nil {
		return nil, nil, err
	}

	scores, err := r.crossValidate(ctx, trainX, trainY)
	if err != nil {
		return nil, nil, r.timeoutOr(ctx, err)
	}
	best := selectBest(scores)
	winner := scores[best]
	r.logger.WithFields(logrus.Fields{
		"candidate":   winner.Candidate.label(),
		"model_type":  winner.Candidate.Type,
		"mean_auc":    winner.MeanAUC,
		"std_auc":     winner.StdAUC,
		"mean_recall": winner.MeanRecall,
	}).Info("Selected candidate")

	fitX, fitY := cfg.Resampling.Apply(trainX, trainY, cfg.SplitSeed)
	hp := winner.Candidate.Hyperparameters
	hp.Seed = cfg.SplitSeed
	clf, err := model.Fit(ctx, winner.Candidate.Type, hp, fitX, fitY)
	if err != nil {
		return nil, nil, r.timeoutOr(ctx, err)
	}
	r.fits.Add(1)
	metrics.RecordFit(string(winner.Candidate.Type))

	valProbs := predictAll(clf, valX)
	calibration := model.Calibrate(valProbs, valY)
	validation := model.Evaluate(valProbs, valY)
	test := model.Evaluate(predictAll(clf, testX), testY)

	if err := ctx.Err(); err != nil {
		return nil, nil, r.timeoutOr(ctx, err)
	}

	elapsed := time.Since(r.start)
	artifact, err := model.NewArtifact(model.ArtifactSpec{
		Schema:      r.builder.Schema(),
		Builder:     r.builder.Config(),
		Classifier:  clf,
		Calibration: calibration,
		Provenance: model.Provenance{
			TrainedAt:       r.start.UTC(),
			TrainingSize:    len(trainX),
			ValidationSize:  len(valX),
			TestSize:        len(testX),
			Candidate:       winner.Candidate.label(),
			ModelType:       winner.Candidate.Type,
			Hyperparameters: hp,
			CVFolds:         cfg.Folds,
			CVSeeds:         cfg.Seeds,
			SplitSeed:       cfg.SplitSeed,
			Resampling:      cfg.Resampling.String(),
			CVMeanAUC:       winner.MeanAUC,
			CVStdAUC:        winner.StdAUC,
			CVMeanRecall:    winner.MeanRecall,
			Validation:      validation,
			Test:            test,
			FitDurationMS:   elapsed.Milliseconds(),
		},
		Background: r.background(trainX),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to assemble artifact: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"version":        artifact.Version(),
		"validation_auc": validation.AUC,
		"test_auc":       test.AUC,
		"brier":          calibration.Brier,
		"fits":           r.fits.Load(),
		"duration":       elapsed,
	}).Info("Training completed")

	return artifact, &Report{
		TrainSize:      len(trainX),
		ValidationSize: len(valX),
		TestSize:       len(testX),
		Scores:         scores,
		Selected:       winner.Candidate,
		Fits:           int(r.fits.Load()),
		Duration:       elapsed,
	}, nil
}

// crossValidate scores every candidate on every (seed, fold). Fits run in
// parallel but each result lands in a fixed slot, and the reduction walks the
// slots in (candidate, seed, fold) order.
func (r *trainingRun) crossValidate(ctx context.Context, x [][]float64, y []bool) ([]CandidateScore, error) {
	cfg := r.cfg
	k := cfg.Folds
	folds := make([][][]int, len(cfg.Seeds))
	for si, seed := range cfg.Seeds {
		folds[si] = stratifiedFolds(y, k, seed)
	}

	perCandidate := len(cfg.Seeds) * k
	results := make([]FoldScore, len(cfg.Grid)*perCandidate)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for ci, cand := range cfg.Grid {
		for si, seed := range cfg.Seeds {
			for f := 0; f < k; f++ {
				slot := ci*perCandidate + si*k + f
				heldOut := folds[si][f]
				g.Go(func() error {
					trX, trY, teX, teY := foldRows(x, y, heldOut)
					trX, trY = cfg.Resampling.Apply(trX, trY, seed*31+int64(f))

					hp := cand.Hyperparameters
					hp.Seed = seed*1000 + int64(f)
					clf, err := model.Fit(gctx, cand.Type, hp, trX, trY)
					if err != nil {
						return err
					}
					r.fits.Add(1)
					metrics.RecordFit(string(cand.Type))

					probs := predictAll(clf, teX)
					results[slot] = FoldScore{
						Seed:   seed,
						Fold:   f,
						AUC:    model.AUC(probs, teY),
						Recall: model.Recall(probs, teY, model.DecisionThreshold),
					}
					return nil
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]CandidateScore, len(cfg.Grid))
	for ci, cand := range cfg.Grid {
		slots := results[ci*perCandidate : (ci+1)*perCandidate]
		aucs := make([]float64, len(slots))
		recalls := make([]float64, len(slots))
		for i, s := range slots {
			aucs[i], recalls[i] = s.AUC, s.Recall
		}
		mean, std := stat.PopMeanStdDev(aucs, nil)
		scores[ci] = CandidateScore{
			Candidate:  cand,
			MeanAUC:    mean,
			StdAUC:     std,
			MeanRecall: stat.Mean(recalls, nil),
			Folds:      append([]FoldScore(nil), slots...),
		}
		r.logger.WithFields(logrus.Fields{
			"candidate":   cand.label(),
			"mean_auc":    scores[ci].MeanAUC,
			"std_auc":     scores[ci].StdAUC,
			"mean_recall": scores[ci].MeanRecall,
		}).Debug("Candidate scored")
	}
	return scores, nil
}

// selectBest prefers higher mean AUC, then higher mean recall, then grid order.
func selectBest(scores []CandidateScore) int {
	const eps = 1e-12
	best := 0
	for i := 1; i < len(scores); i++ {
		a, b := scores[i], scores[best]
		switch {
		case a.MeanAUC > b.MeanAUC+eps:
			best = i
		case math.Abs(a.MeanAUC-b.MeanAUC) <= eps && a.MeanRecall > b.MeanRecall+eps:
			best = i
		}
	}
	return best
}

func (r *trainingRun) checkClasses(labels []bool, stage string) error {
	required := 2 * r.cfg.Folds
	neg, pos := countClasses(labels)
	if neg < required {
		return &domain.InsufficientDataError{Class: false, Count: neg, Required: required, Stage: stage}
	}
	if pos < required {
		return &domain.InsufficientDataError{Class: true, Count: pos, Required: required, Stage: stage}
	}
	return nil
}

func (r *trainingRun) checkVariance(x [][]float64) error {
	names := r.builder.Schema().Names()
	var degenerate []string
	for j, name := range names {
		lo, hi := x[0][j], x[0][j]
		for _, row := range x[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		if lo == hi {
			degenerate = append(degenerate, name)
		}
	}
	if len(degenerate) > 0 {
		return &domain.DegenerateFeatureError{Features: degenerate}
	}
	return nil
}

// background returns the training rows, subsampled deterministically when
// they exceed BackgroundLimit.
func (r *trainingRun) background(x [][]float64) [][]float64 {
	limit := r.cfg.BackgroundLimit
	if limit <= 0 || len(x) <= limit {
		return x
	}
	rng := rand.New(rand.NewPCG(uint64(r.cfg.SplitSeed), 0xbac6))
	perm := rng.Perm(len(x))[:limit]
	out := make([][]float64, limit)
	for i, p := range perm {
		out[i] = x[p]
	}
	return out
}

func (r *trainingRun) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return &domain.TrainingTimeoutError{
			Elapsed:   time.Since(r.start),
			FitsDone:  int(r.fits.Load()),
			FitsLimit: r.cfg.MaxFits,
			Cause:     cause,
		}
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrDegenerateFeature):
		return "degenerate_feature"
	case errors.Is(err, domain.ErrTrainingTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrOutOfRangeInput):
		return "out_of_range"
	default:
		return "other"
	}
}

func gather(x [][]float64, y []bool, idx []int) ([][]float64, []bool) {
	gx := make([][]float64, len(idx))
	gy := make([]bool, len(idx))
	for i, p := range idx {
		gx[i] = x[p]
		gy[i] = y[p]
	}
	return gx, gy
}

func foldRows(x [][]float64, y []bool, heldOut []int) (trX [][]float64, trY []bool, teX [][]float64, teY []bool) {
	out := make([]bool, len(x))
	for _, p := range heldOut {
		out[p] = true
	}
	for i := range x {
		if out[i] {
			teX = append(teX, x[i])
			teY = append(teY, y[i])
		} else {
			trX = append(trX, x[i])
			trY = append(trY, y[i])
		}
	}
	return trX, trY, teX, teY
}

func predictAll(clf model.Classifier, x [][]float64) []float64 {
	probs := make([]float64, len(x))
	for i, row := range x {
		probs[i] = clf.PredictProba(row)
	}
	return probs
}
