// Package watch 监视源文档，变化稳定后重跑一次排序。
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"pagesort/internal/diag"
	"pagesort/internal/pipeline"
	"pagesort/pkg/contract"
)

// Options 监视参数；零值使用默认。
type Options struct {
	// Debounce: 最后一次相关事件之后的静默期（默认 500ms）。
	Debounce time.Duration
}

// Targets 记录需要关注的文件与目录（绝对路径）。
type Targets struct {
	files map[string]struct{}
	dirs  []string
	exts  map[string]struct{}
}

// NewTargets 由 jobs 构建监视目标；exts 过滤目录源中的事件（小写比较，空表示全部）。
// 任一 job 的目标若是某个被监视的源文件，或位于某个目录源之内，写出会再次触发事件，拒绝。
func NewTargets(jobs []pipeline.Job, exts []string) (*Targets, error) {
	t := &Targets{files: map[string]struct{}{}, exts: map[string]struct{}{}}
	for _, e := range exts {
		if e = strings.TrimSpace(e); e != "" {
			t.exts[strings.ToLower(e)] = struct{}{}
		}
	}
	dests := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.Source == "-" {
			return nil, fmt.Errorf("%w: stdin cannot be watched", contract.ErrPathInvalid)
		}
		src, err := filepath.Abs(j.Source)
		if err != nil {
			return nil, err
		}
		st, err := os.Stat(src)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			t.dirs = append(t.dirs, src)
		} else {
			t.files[src] = struct{}{}
		}
		if j.Dest == "-" {
			continue
		}
		dst, err := filepath.Abs(j.Dest)
		if err != nil {
			return nil, err
		}
		dests = append(dests, dst)
	}
	// 源全部登记后再比对，覆盖 a→b、b→c 这类链式 job
	for _, dst := range dests {
		if _, ok := t.files[dst]; ok {
			return nil, fmt.Errorf("%w: dest %s is a watched source", contract.ErrPathInvalid, dst)
		}
		for _, d := range t.dirs {
			if within(d, dst) {
				return nil, fmt.Errorf("%w: dest %s inside watched dir %s", contract.ErrPathInvalid, dst, d)
			}
		}
	}
	return t, nil
}

// Relevant 判断事件路径是否应触发重跑。
func (t *Targets) Relevant(name string) bool {
	name = filepath.Clean(name)
	if _, ok := t.files[name]; ok {
		return true
	}
	for _, d := range t.dirs {
		if !within(d, name) || name == d {
			continue
		}
		if len(t.exts) == 0 {
			return true
		}
		_, ok := t.exts[strings.ToLower(filepath.Ext(name))]
		return ok
	}
	return false
}

// watchDirs 返回需要注册的目录：文件源取父目录（编辑器常以 rename 覆盖），目录源递归。
func (t *Targets) watchDirs() ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(d string) {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for f := range t.files {
		add(filepath.Dir(f))
	}
	for _, d := range t.dirs {
		err := filepath.WalkDir(d, func(p string, e fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if e.IsDir() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Targets) inDirs(p string) bool {
	for _, d := range t.dirs {
		if within(d, p) {
			return true
		}
	}
	return false
}

// Run 先执行一次 fn，随后每当目标变化且静默 Debounce 后再执行；阻塞直到 ctx 结束。
// fn 的错误只记录，不终止监视。
func Run(ctx context.Context, t *Targets, opt Options, logger *diag.Logger, fn func(context.Context) error) error {
	debounce := opt.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	dirs, err := t.watchDirs()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch add %s: %w", d, err)
		}
	}
	logger.StartWithKV("watch", "watching", "", map[string]string{
		"dirs":        strconv.Itoa(len(dirs)),
		"debounce_ms": strconv.FormatInt(debounce.Milliseconds(), 10),
	})

	runs := 0
	once := func() {
		runs++
		start := time.Now()
		if err := fn(ctx); err != nil {
			logger.ErrorWithKV("watch", string(diag.Classify(err)), "run failed", &start, "",
				map[string]string{"error": err.Error(), "run": strconv.Itoa(runs)})
			diag.IncOp("watch", "run", "error")
			return
		}
		logger.InfoFinish("watch", "run", start, int64(runs))
		diag.IncOp("watch", "run", "success")
	}
	once()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			// 目录源下新建的子目录需补注册
			if ev.Has(fsnotify.Create) && t.inDirs(ev.Name) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						logger.ErrorWithKV("watch", string(diag.CodeIO), "add dir failed", nil, "", map[string]string{"error": err.Error()})
					}
				}
			}
			if !t.Relevant(ev.Name) {
				continue
			}
			logger.DebugStart("watch", "event", string(contract.NormalizeDocID(ev.Name)), map[string]string{"op": ev.Op.String()})
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.ErrorWithKV("watch", string(diag.Classify(err)), "watcher error", nil, "", map[string]string{"error": err.Error()})
		case <-timer.C:
			once()
		}
	}
}

// within: p 等于 dir 或位于其下。
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
