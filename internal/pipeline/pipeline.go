package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"bidskit/internal/b1convert"
	"bidskit/internal/config"
	"bidskit/internal/convert"
	"bidskit/internal/fixanat"
	"bidskit/internal/fixepi"
	"bidskit/internal/fixfmap"
	"bidskit/internal/importdcm"
	"bidskit/internal/logging"
	"bidskit/internal/qc"
	"bidskit/internal/reorient"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/slicetime"
	"bidskit/internal/steps"
	"bidskit/internal/validate"
)

// Options controls one full pipeline run.
type Options struct {
	// Input is the DICOM source passed to the import step.
	Input string
	// ZipInput forces archive resolution for the import step.
	ZipInput bool
	// Docker runs heudiconv through its container image.
	Docker bool
	// SkipValidate leaves out the BIDS validation step.
	SkipValidate bool
	// RunQC enables the MRIQC step. QC takes hours per session, so it is
	// opt-in.
	RunQC bool
	// Force reruns steps whose outputs already exist.
	Force bool
}

// Pipeline runs every processing step for one session in order.
type Pipeline struct {
	sess   *session.Session
	study  *config.Study
	cfg    *config.Config
	exec   runner.Executor
	logger *slog.Logger
}

// New builds a Pipeline.
func New(sess *session.Session, study *config.Study, cfg *config.Config, exec runner.Executor, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		sess:   sess,
		study:  study,
		cfg:    cfg,
		exec:   exec,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// step is one named unit of the workflow.
type step struct {
	name string
	run  func(ctx context.Context) (steps.Result, error)
}

// Run executes the workflow, stopping at the first failing step.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	runID := uuid.NewString()
	logger := p.logger.With(logging.String("run_id", runID))
	logger.Info("starting pipeline",
		logging.String("subject", p.sess.Subject),
		logging.String("session", p.sess.Session))

	plan := []step{
		{"import", func(ctx context.Context) (steps.Result, error) {
			return importdcm.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx, opts.Input, opts.ZipInput)
		}},
		{"convert", func(ctx context.Context) (steps.Result, error) {
			return convert.New(p.sess, p.study, p.cfg, p.exec, opts.Force, logger).Run(ctx, opts.Docker)
		}},
		{"convert-b1", func(ctx context.Context) (steps.Result, error) {
			return b1convert.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx)
		}},
		{"slicetime", func(ctx context.Context) (steps.Result, error) {
			return slicetime.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx)
		}},
		{"reorient", func(ctx context.Context) (steps.Result, error) {
			return reorient.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx)
		}},
		{"fix-anat", func(ctx context.Context) (steps.Result, error) {
			fixer, err := fixanat.New(p.sess, opts.Force, logger)
			if err != nil {
				return steps.Result{}, err
			}
			return fixer.Run()
		}},
		{"fix-fmap", func(ctx context.Context) (steps.Result, error) {
			fixer, err := fixfmap.New(p.sess, opts.Force, logger)
			if err != nil {
				return steps.Result{}, err
			}
			return fixer.Run()
		}},
		{"fix-epi", func(ctx context.Context) (steps.Result, error) {
			return fixepi.New(p.sess, p.cfg.Acquisition.APPhaseEncoding, opts.Force, logger).Run()
		}},
	}
	if !opts.SkipValidate {
		plan = append(plan, step{"validate", func(ctx context.Context) (steps.Result, error) {
			passed, err := validate.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx)
			if err != nil {
				return steps.Result{}, err
			}
			if !passed {
				return steps.Result{}, fmt.Errorf("dataset failed BIDS validation")
			}
			return steps.Applied(), nil
		}})
	}
	if opts.RunQC {
		plan = append(plan, step{"qc", func(ctx context.Context) (steps.Result, error) {
			return qc.New(p.sess, p.cfg, p.exec, opts.Force, logger).Run(ctx)
		}})
	}

	for _, s := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("running step", logging.String("step", s.name))
		result, err := s.run(ctx)
		if err != nil {
			logger.Error("step failed", logging.String("step", s.name), logging.Error(err))
			return fmt.Errorf("step %s: %w", s.name, err)
		}
		if result.Applied {
			logger.Info("step complete", logging.String("step", s.name))
		} else {
			logger.Info("step skipped",
				logging.String("step", s.name), logging.String("reason", result.Reason))
		}
	}

	logger.Info("pipeline complete")
	return nil
}
