package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bidskit/internal/config"
	"bidskit/internal/logging"
	"bidskit/internal/session"
)

type commandContext struct {
	studyDirFlag *string
	subjectFlag  *string
	sessionFlag  *string
	configFlag   *string
	forceFlag    *bool
	verboseFlag  *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(studyDir, subject, sess, configPath *string, force, verbose *bool) *commandContext {
	return &commandContext{
		studyDirFlag: studyDir,
		subjectFlag:  subject,
		sessionFlag:  sess,
		configFlag:   configPath,
		forceFlag:    force,
		verboseFlag:  verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) force() bool {
	return c.forceFlag != nil && *c.forceFlag
}

func (c *commandContext) logLevel(cfg *config.Config) string {
	if c.verboseFlag != nil && *c.verboseFlag {
		return "debug"
	}
	return cfg.Logging.Level
}

// resolveStudy locates the active study from the --studydir flag, the
// registered settings, or an upward search from the working directory.
func (c *commandContext) resolveStudy() (*config.Study, error) {
	settingsPath, err := config.SettingsPath()
	if err != nil {
		return nil, err
	}
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	studyDir, err := config.ResolveStudyDir(*c.studyDirFlag, settingsPath, workDir)
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(studyDir, "code", "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return config.LoadStudy(configPath)
	}
	return &config.Study{StudyDir: studyDir}, nil
}

func (c *commandContext) newSession(study *config.Study) (*session.Session, error) {
	subject := strings.TrimSpace(*c.subjectFlag)
	if subject == "" {
		return nil, fmt.Errorf("no subject given: pass --subject (without the sub- prefix)")
	}
	sessionID := strings.TrimSpace(*c.sessionFlag)
	if sessionID == "" {
		return nil, fmt.Errorf("no session given: pass --session (without the ses- prefix)")
	}
	return session.New(study.StudyDir, subject, sessionID), nil
}

// withSession resolves the configuration, study, and session, takes the
// session lock, and runs fn with a step-scoped logger.
func (c *commandContext) withSession(ctx context.Context, step string, fn func(context.Context, *session.Session, *config.Study, *config.Config, *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	study, err := c.resolveStudy()
	if err != nil {
		return err
	}
	sess, err := c.newSession(study)
	if err != nil {
		return err
	}

	logger, err := logging.ForStep(sess.Path(session.AreaLogs), step, c.logLevel(cfg), cfg.Logging.Format)
	if err != nil {
		return err
	}

	if err := sess.Lock(); err != nil {
		return err
	}
	defer func() {
		_ = sess.Unlock()
	}()

	return fn(ctx, sess, study, cfg, logger)
}
