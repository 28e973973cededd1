package config

import (
	"errors"
	"fmt"
	"strings"

	"pagesort/internal/pipeline"
	"pagesort/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Jobs) == 0 {
		return errors.New("config: jobs empty")
	}
	stdin := 0
	for i, j := range cfg.Jobs {
		if strings.TrimSpace(j.Source) == "" {
			return fmt.Errorf("config: job %d source empty", i)
		}
		if strings.TrimSpace(j.Dest) == "" {
			return fmt.Errorf("config: job %d dest empty", i)
		}
		if j.Source == "-" {
			stdin++
		}
	}
	if stdin > 1 {
		return errors.New("config: '-' (stdin) may be used by one job only")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q invalid", cfg.Logging.Level)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults().Components
	if name := effName(cfg.Components.Source, d.Source); registry.Source[name] == nil {
		return fmt.Errorf("config: source %q not registered", name)
	}
	if name := effName(cfg.Components.Scanner, d.Scanner); registry.Scanner[name] == nil {
		return fmt.Errorf("config: scanner %q not registered", name)
	}
	if name := effName(cfg.Components.Sorter, d.Sorter); registry.Sorter[name] == nil {
		return fmt.Errorf("config: sorter %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Sink, d.Sink); registry.Sink[name] == nil {
		return fmt.Errorf("config: sink %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	comp, err := AssembleComponents(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	set := pipeline.Settings{
		Jobs:        make([]pipeline.Job, 0, len(cfg.Jobs)),
		Concurrency: cfg.Concurrency,
		Verify:      cfg.Verify != nil && *cfg.Verify,
		Walk: pipeline.Walk{
			Exts:            append([]string(nil), cfg.Walk.Exts...),
			ExcludeDirNames: append([]string(nil), cfg.Walk.ExcludeDirNames...),
		},
	}
	for _, j := range cfg.Jobs {
		set.Jobs = append(set.Jobs, pipeline.Job{Source: j.Source, Dest: j.Dest})
	}
	return comp, set, nil
}

// AssembleComponents 仅构造组件实例（inspect 不需要 jobs）。
func AssembleComponents(cfg Config) (pipeline.Components, error) {
	d := Defaults().Components
	var comp pipeline.Components
	newSource := registry.Source[effName(cfg.Components.Source, d.Source)]
	newScanner := registry.Scanner[effName(cfg.Components.Scanner, d.Scanner)]
	newSorter := registry.Sorter[effName(cfg.Components.Sorter, d.Sorter)]
	newWriter := registry.Writer[effName(cfg.Components.Writer, d.Writer)]
	newSink := registry.Sink[effName(cfg.Components.Sink, d.Sink)]
	if newSource == nil || newScanner == nil || newSorter == nil || newWriter == nil || newSink == nil {
		return comp, errors.New("config: component not registered")
	}

	var err error
	if comp.Source, err = newSource(cfg.Options.Source); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.source: %w", err)
	}
	if comp.Scanner, err = newScanner(cfg.Options.Scanner); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.scanner: %w", err)
	}
	if comp.Sorter, err = newSorter(cfg.Options.Sorter); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.sorter: %w", err)
	}
	if comp.Writer, err = newWriter(cfg.Options.Writer); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.writer: %w", err)
	}
	if comp.Sink, err = newSink(cfg.Options.Sink); err != nil {
		return pipeline.Components{}, fmt.Errorf("config: options.sink: %w", err)
	}
	return comp, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
