package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pagesort/internal/diag"
	"pagesort/internal/verify"
	"pagesort/pkg/contract"
)

// - 单文档同步：Open → Scan → Sort → Commit(fill = Write [+ Verify])，文档内无并发。
// - 文档间并发：仅此层管理并发（errgroup + SetLimit），文档之间无共享可变状态。
// - 首错取消：任一文档失败即取消其余文档；Scan/Sort 失败时不触碰目标。

// Components 聚合运行所需的原子组件。
type Components struct {
	Source  contract.Source
	Scanner contract.Scanner
	Sorter  contract.Sorter
	Writer  contract.Writer
	Sink    contract.Sink
}

// Job 描述一个文档：源路径与目标路径（"-" 分别表示 STDIN/STDOUT）。
type Job struct {
	Source string
	Dest   string
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Jobs        []Job
	Concurrency int
	// Verify: 提交前重扫目标缓冲，证明输出仅为 page 重排。
	Verify bool
	// Walk: 目录源的展开规则。
	Walk Walk
}

// atomicity 由支持原子替换的 Sink 实现（见 plugins/sink/filesystem）。
type atomicity interface{ Atomic() bool }

// Run 依次（或按 Concurrency 并发）处理 set.Jobs 中的每个文档。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	jobs, err := ExpandJobs(ctx, set.Jobs, set.Walk)
	if err != nil {
		return fmt.Errorf("expand jobs: %w", err)
	}
	if err := checkJobs(jobs); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	set.Jobs = jobs
	conc := set.Concurrency
	if conc < 1 {
		conc = 1
	}

	runStart := time.Now()
	rtimer := logger.StartWithKV("pipeline", "run", "", map[string]string{
		"jobs":        strconv.Itoa(len(set.Jobs)),
		"concurrency": strconv.Itoa(conc),
		"verify":      strconv.FormatBool(set.Verify),
	})
	if t := diag.GetTerminal(); t != nil {
		t.RunStart(conc, len(set.Jobs))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, job := range set.Jobs {
		g.Go(func() error {
			return runJob(gctx, comp, set, logger, job)
		})
	}
	err = g.Wait()

	if t := diag.GetTerminal(); t != nil {
		t.RunFinish(err == nil, time.Since(runStart))
	}
	logger.DebugStart("pipeline", "metrics", "", diag.SnapshotKV())
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWithKV("pipeline", string(code), "run failed", &runStart, "", map[string]string{"error": err.Error()})
		diag.IncOp("pipeline", "error", "error")
		return err
	}
	rtimer.Finish("run", int64(len(set.Jobs)))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "run", time.Since(runStart).Milliseconds())
	return nil
}

// runJob 处理单个文档；文档内各阶段严格串行。
func runJob(ctx context.Context, comp Components, set Settings, logger *diag.Logger, job Job) error {
	doc := string(contract.NormalizeDocID(job.Source))
	docStart := time.Now()
	pages := 0
	ok := false
	defer func() {
		if t := diag.GetTerminal(); t != nil {
			t.DocFinish(doc, ok, pages, time.Since(docStart))
		}
	}()

	if err := checkInPlace(comp.Sink, job); err != nil {
		return stageFailed(logger, "pipeline", "in-place check failed", doc, nil, err)
	}

	// Source：整体载入
	stimer := logger.StartWith("source", "open", doc)
	buf, err := comp.Source.Open(ctx, job.Source)
	if err != nil {
		return stageFailed(logger, "source", "open failed", doc, stimer, fmt.Errorf("source open: %w", err))
	}
	defer func() {
		if cerr := buf.Close(); cerr != nil {
			logger.ErrorWithKV("source", string(diag.Classify(cerr)), "close failed", nil, doc, map[string]string{"error": cerr.Error()})
		}
	}()
	src := buf.Bytes()
	stimer.Finish("open", int64(len(src)))
	diag.IncOp("source", "finish", "success")
	if t := diag.GetTerminal(); t != nil {
		t.DocStart(doc, int64(len(src)))
	}

	// Scanner
	stage(doc, "scan")
	sctimer := logger.StartWith("scanner", "scan", doc)
	layout, err := comp.Scanner.Scan(ctx, contract.DocID(doc), src)
	if err != nil {
		return stageFailed(logger, "scanner", "scan failed", doc, sctimer, fmt.Errorf("scanner scan: %w", err))
	}
	pages = len(layout.Pages)
	sctimer.FinishKV("scan", int64(pages), map[string]string{
		"preamble_bytes": strconv.Itoa(layout.Preamble.Len()),
		"trailer_bytes":  strconv.Itoa(layout.Trailer.Len()),
	})
	diag.IncOp("scanner", "finish", "success")
	diag.ObserveDuration("scanner", "scan", sctimer.Elapsed().Milliseconds())

	// Sorter
	stage(doc, "sort")
	logger.DebugStart("sorter", "sort_req", doc, map[string]string{"already_sorted": strconv.FormatBool(contract.IsSorted(layout.Pages))})
	sotimer := logger.StartWith("sorter", "sort", doc)
	if err := comp.Sorter.Sort(ctx, layout.Pages); err != nil {
		return stageFailed(logger, "sorter", "sort failed", doc, sotimer, fmt.Errorf("sorter sort: %w", err))
	}
	sotimer.Finish("sort", int64(pages))
	diag.IncOp("sorter", "finish", "success")
	diag.ObserveDuration("sorter", "sort", sotimer.Elapsed().Milliseconds())

	// Writer (+Verify) 在 Sink 提供的目标缓冲内执行；失败则不提交。
	stage(doc, "write")
	// fillErr: writer/verify 已在各自阶段记录，sink 层不再重复记录与计数
	var fillErr error
	fill := func(dst []byte) error {
		wtimer := logger.StartWith("writer", "write", doc)
		if err := comp.Writer.Write(ctx, dst, src, layout); err != nil {
			fillErr = stageFailed(logger, "writer", "write failed", doc, wtimer, fmt.Errorf("writer write: %w", err))
			return fillErr
		}
		wtimer.Finish("write", int64(len(dst)))
		diag.IncOp("writer", "finish", "success")
		if !set.Verify {
			return nil
		}
		vtimer := logger.StartWith("verify", "check", doc)
		if err := verify.Check(ctx, comp.Scanner, src, dst, layout); err != nil {
			fillErr = stageFailed(logger, "verify", "check failed", doc, vtimer, fmt.Errorf("verify: %w", err))
			return fillErr
		}
		vtimer.Finish("check", int64(pages))
		diag.IncOp("verify", "finish", "success")
		return nil
	}
	ktimer := logger.StartWithKV("sink", "commit", doc, map[string]string{"dest": job.Dest})
	if err := comp.Sink.Commit(ctx, job.Dest, len(src), fill); err != nil {
		if fillErr != nil {
			return fmt.Errorf("sink commit: %w", err)
		}
		return stageFailed(logger, "sink", "commit failed", doc, ktimer, fmt.Errorf("sink commit: %w", err))
	}
	ktimer.Finish("commit", int64(len(src)))
	diag.IncOp("sink", "finish", "success")
	diag.ObserveDuration("sink", "commit", ktimer.Elapsed().Milliseconds())
	ok = true
	return nil
}

// stageFailed 记录错误事件与指标，原样返回 err。
func stageFailed(logger *diag.Logger, comp, msg, doc string, t *diag.Timer, err error) error {
	code := diag.Classify(err)
	var since *time.Time
	if t != nil {
		s := time.Now().Add(-t.Elapsed())
		since = &s
	}
	logger.ErrorWithKV(comp, string(code), msg, since, doc, map[string]string{"error": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
	return err
}

func stage(doc, name string) {
	if t := diag.GetTerminal(); t != nil {
		t.DocStage(doc, name)
	}
}

// checkInPlace 非原子 Sink 会先截断目标；目标即源时拒绝（源可能仍被映射）。
func checkInPlace(sink contract.Sink, job Job) error {
	a, ok := sink.(atomicity)
	if !ok || a.Atomic() {
		return nil
	}
	if job.Source == "-" || job.Dest == "-" {
		return nil
	}
	si, err := os.Stat(job.Source)
	if err != nil {
		return nil // 由 Source.Open 报告
	}
	di, err := os.Stat(job.Dest)
	if err != nil {
		return nil
	}
	if os.SameFile(si, di) {
		return fmt.Errorf("%w: non-atomic write would truncate source %s", contract.ErrPathInvalid, job.Source)
	}
	return nil
}

func sanity(c Components, s Settings) error {
	if c.Source == nil || c.Scanner == nil || c.Sorter == nil || c.Writer == nil || c.Sink == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Jobs) == 0 {
		return errors.New("pipeline: no jobs")
	}
	return checkJobs(s.Jobs)
}

// checkJobs 路径非空、目标不重复、STDIN 至多一次；目录展开后再校验一次。
func checkJobs(jobs []Job) error {
	if len(jobs) == 0 {
		return errors.New("pipeline: no jobs")
	}
	dests := make(map[string]struct{}, len(jobs))
	stdin := 0
	for i, j := range jobs {
		if strings.TrimSpace(j.Source) == "" || strings.TrimSpace(j.Dest) == "" {
			return fmt.Errorf("%w: job %d has empty source or dest", contract.ErrPathInvalid, i)
		}
		if j.Source == "-" {
			stdin++
		}
		d := string(contract.NormalizeDocID(j.Dest))
		if j.Dest == "-" {
			d = "-"
		}
		if _, dup := dests[d]; dup {
			return fmt.Errorf("%w: dest %s used by more than one job", contract.ErrPathInvalid, j.Dest)
		}
		dests[d] = struct{}{}
	}
	if stdin > 1 {
		return fmt.Errorf("%w: stdin may feed at most one job", contract.ErrPathInvalid)
	}
	return nil
}
