package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 目录按字典序展开：先子目录后文件，排除目录与扩展名过滤生效。
func TestExpandJobsOrder(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "dumps")
	for _, d := range []string{"b", "a", ".git", "a/z"} {
		require.NoError(t, os.MkdirAll(filepath.Join(src, d), 0o755))
	}
	for _, f := range []string{"x.xml", "a/2.xml", "a/1.XML", "a/z/9.xml", "b/k.xml", ".git/h.xml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, f), []byte("x"), 0o644))
	}
	out := filepath.Join(root, "out")

	jobs, err := ExpandJobs(context.Background(), []Job{{Source: src, Dest: out}, {Source: "-", Dest: "-"}},
		Walk{Exts: []string{".xml"}, ExcludeDirNames: []string{".GIT"}})
	require.NoError(t, err)

	j := func(rel string) Job {
		return Job{Source: filepath.Join(src, rel), Dest: filepath.Join(out, rel)}
	}
	want := []Job{
		j(filepath.Join("a", "z", "9.xml")),
		j(filepath.Join("a", "1.XML")),
		j(filepath.Join("a", "2.xml")),
		j(filepath.Join("b", "k.xml")),
		j("x.xml"),
		{Source: "-", Dest: "-"},
	}
	if diff := cmp.Diff(want, jobs); diff != "" {
		t.Fatalf("jobs mismatch (-want +got):\n%s", diff)
	}
}

// 非目录源（文件、不存在的路径）原样保留。
func TestExpandJobsPassThrough(t *testing.T) {
	dir := t.TempDir()
	f := writeFile(t, dir, "one.xml", "x")
	in := []Job{{Source: f, Dest: "o1"}, {Source: filepath.Join(dir, "missing.xml"), Dest: "o2"}}
	got, err := ExpandJobs(context.Background(), in, Walk{})
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

// 空扩展名集合收集全部常规文件；目录符号链接不跟随。
func TestExpandJobsSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink 需要额外权限")
	}
	root := t.TempDir()
	src := filepath.Join(root, "src")
	other := filepath.Join(root, "other")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(other, 0o755))
	writeFile(t, other, "o.xml", "x")
	writeFile(t, src, "a.dat", "x")
	require.NoError(t, os.Symlink(other, filepath.Join(src, "linked")))
	require.NoError(t, os.Symlink(filepath.Join(other, "o.xml"), filepath.Join(src, "l.xml")))

	got, err := ExpandJobs(context.Background(), []Job{{Source: src, Dest: "d"}}, Walk{})
	require.NoError(t, err)
	want := []Job{
		{Source: filepath.Join(src, "a.dat"), Dest: filepath.Join("d", "a.dat")},
		{Source: filepath.Join(src, "l.xml"), Dest: filepath.Join("d", "l.xml")},
	}
	assert.Equal(t, want, got)
}

func TestExpandJobsCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.xml", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExpandJobs(ctx, []Job{{Source: dir, Dest: "d"}}, Walk{})
	assert.ErrorIs(t, err, context.Canceled)
}

// 目录源端到端：每个文件按相对路径写入目标目录。
func TestRunDirectorySource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	writeFile(t, src, "a.xml", doc(page("2", "A2"), page("1", "A1")))
	writeFile(t, filepath.Join(src, "sub"), "b.xml", doc(page("9", "B9"), page("4", "B4")))
	writeFile(t, src, "skip.txt", "ignored")
	out := filepath.Join(root, "out")

	set := Settings{
		Jobs:        []Job{{Source: src, Dest: out}},
		Concurrency: 2,
		Walk:        Walk{Exts: []string{".xml"}},
	}
	require.NoError(t, Run(context.Background(), components(t, true, false), set, nil))

	assert.Equal(t, doc(page("1", "A1"), page("2", "A2")), readFile(t, filepath.Join(out, "a.xml")))
	assert.Equal(t, doc(page("4", "B4"), page("9", "B9")), readFile(t, filepath.Join(out, "sub", "b.xml")))
	_, err := os.Stat(filepath.Join(out, "skip.txt"))
	assert.True(t, os.IsNotExist(err))
}

// 展开后无匹配文件时报告无 job。
func TestRunEmptyDirectory(t *testing.T) {
	src := t.TempDir()
	set := Settings{Jobs: []Job{{Source: src, Dest: filepath.Join(src, "out")}}, Walk: Walk{Exts: []string{".xml"}}}
	err := Run(context.Background(), components(t, true, false), set, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no jobs")
}
