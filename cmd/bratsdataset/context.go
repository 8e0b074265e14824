package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bratsdataset/pkg/catalog"
	"bratsdataset/pkg/config"
	"bratsdataset/pkg/dataset"
	"bratsdataset/pkg/logging"
	"bratsdataset/pkg/transform"
)

// defaultConfigPath is read from the working directory when --config is
// not given. A missing file means built-in defaults.
const defaultConfigPath = "bratsdataset.yaml"

type commandContext struct {
	configFlag *string
	levelFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *zap.Logger
	loggerErr  error
}

func newCommandContext(configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	return defaultConfigPath
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadConfig(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if c.levelFlag != nil && strings.TrimSpace(*c.levelFlag) != "" {
			cfg.Logging.Level = strings.TrimSpace(*c.levelFlag)
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureLogger builds the logger once, sending console output to the
// command's stderr
func (c *commandContext) ensureLogger(cmd *cobra.Command) (*zap.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.New(logging.Options{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			File:        cfg.Logging.File,
			MaxSizeMB:   cfg.Logging.MaxSizeMB,
			MaxAgeDays:  cfg.Logging.MaxAgeDays,
			MaxBackups:  cfg.Logging.MaxBackups,
			Console:     cmd.ErrOrStderr(),
		})
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) syncLogger() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

// buildCatalog builds the configured catalog. A non-empty source overrides
// dataset.source.
func (c *commandContext) buildCatalog(cmd *cobra.Command, source string) (*catalog.Catalog, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := catalogOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(source) == "" {
		source = cfg.Dataset.Source
	}
	return catalog.Build(source, opts)
}

// buildDataset wraps cat in a dataset configured from the sampling section
func (c *commandContext) buildDataset(cmd *cobra.Command, cat *catalog.Catalog) (*dataset.Dataset, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.ensureLogger(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := datasetOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	return dataset.New(cat, opts...)
}

func catalogOptions(cfg *config.Config, logger *zap.Logger) (catalog.Options, error) {
	mods := catalog.ModalitySet{
		Modalities: append([]string(nil), cfg.Dataset.Modalities...),
	}
	if !cfg.Dataset.TestMode {
		mods.Label = cfg.Dataset.Label
	}
	rule, ok := catalog.RuleByName(cfg.Dataset.ModalityRule, cfg.Dataset.ModalityIndex)
	if !ok {
		return catalog.Options{}, fmt.Errorf("unknown modality rule %q", cfg.Dataset.ModalityRule)
	}
	return catalog.Options{
		Modalities:       mods,
		Rule:             rule,
		ListFile:         cfg.Dataset.ListFile,
		RequireAllowList: cfg.Dataset.RequireAllowList,
		Logger:           logger,
	}, nil
}

func datasetOptions(cfg *config.Config, logger *zap.Logger) ([]dataset.Option, error) {
	crop := cfg.Sampling.Crop
	if v := strings.ToLower(cfg.Sampling.Variant); v == "slice" || v == "2d" {
		crop = cfg.Sampling.SliceCrop
	}
	strategy, err := dataset.NewStrategy(cfg.Sampling.Variant, crop, cfg.Sampling.SliceDepth)
	if err != nil {
		return nil, err
	}
	pipeline, err := transform.Parse(cfg.Sampling.Transforms)
	if err != nil {
		return nil, err
	}

	opts := []dataset.Option{
		dataset.WithStrategy(strategy),
		dataset.WithLogger(logger),
	}
	if len(pipeline) > 0 {
		opts = append(opts, dataset.WithTransform(pipeline))
	}
	if cfg.Sampling.Seed != 0 {
		opts = append(opts, dataset.WithSeed(cfg.Sampling.Seed))
	}
	return opts, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
