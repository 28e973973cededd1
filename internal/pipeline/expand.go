package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Walk 控制目录源的展开。
type Walk struct {
	// Exts: 仅收集这些扩展名（小写比较，含点）；空表示全部常规文件。
	Exts []string
	// ExcludeDirNames: 递归时跳过的目录基名（小写比较）。
	ExcludeDirNames []string
}

// ExpandJobs 将源为目录的 job 展开为逐文件 job：目标为 Dest 目录下相同的相对路径。
// 顺序稳定：目录内按字典序，先子目录后文件；显式给出的源可为目录符号链接，递归时不跟随。
// 源不是目录（含 "-" 与不存在的路径）时原样保留，由 Source.Open 报告错误。
func ExpandJobs(ctx context.Context, jobs []Job, w Walk) ([]Job, error) {
	exts := lowerSet(w.Exts)
	skip := lowerSet(w.ExcludeDirNames)
	out := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Source == "-" {
			out = append(out, j)
			continue
		}
		info, err := os.Stat(j.Source)
		if err != nil || !info.IsDir() {
			out = append(out, j)
			continue
		}
		err = walkDir(ctx, j.Source, skip, func(p string) error {
			if len(exts) > 0 {
				if _, ok := exts[strings.ToLower(filepath.Ext(p))]; !ok {
					return nil
				}
			}
			rel, err := filepath.Rel(j.Source, p)
			if err != nil {
				return err
			}
			out = append(out, Job{Source: p, Dest: filepath.Join(j.Dest, rel)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func walkDir(ctx context.Context, dir string, skip map[string]struct{}, yield func(path string) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := skip[strings.ToLower(e.Name())]; ok {
			continue
		}
		if err := walkDir(ctx, filepath.Join(dir, e.Name()), skip, yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接）
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			// 设备、管道等跳过
			continue
		}
		if err := yield(p); err != nil {
			return err
		}
	}
	return nil
}

func lowerSet(in []string) map[string]struct{} {
	m := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			m[strings.ToLower(s)] = struct{}{}
		}
	}
	return m
}
