package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"pagesort/internal/diag"
	"pagesort/pkg/contract"
	skfs "pagesort/plugins/sink/filesystem"
	sbid "pagesort/plugins/sorter/byid"
	scmk "pagesort/plugins/scanner/marker"
	srcfs "pagesort/plugins/source/filesystem"
	wlin "pagesort/plugins/writer/linear"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	preamble = "<mediawiki>\n  <siteinfo>x</siteinfo>\n"
	trailer  = "</mediawiki>\n"
)

func page(id, body string) string {
	return "  <page>\n    <title>" + body + "</title>\n    <id>" + id + "</id>\n  </page>\n"
}

func doc(pages ...string) string {
	return preamble + strings.Join(pages, "") + trailer
}

func boolPtr(b bool) *bool { return &b }

// components 使用真实插件组装；sink 的原子开关可调。
func components(t *testing.T, atomic bool, stable bool) Components {
	t.Helper()
	sc, err := scmk.New(nil)
	require.NoError(t, err)
	w, err := wlin.New(nil)
	require.NoError(t, err)
	return Components{
		Source:  srcfs.New(nil),
		Scanner: sc,
		Sorter:  sbid.New(&sbid.Options{Stable: stable}),
		Writer:  w,
		Sink:    skfs.New(&skfs.Options{Atomic: boolPtr(atomic)}),
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

// ids 3,1,2 → B,C,A；前导/尾随不变
func TestRunReordersPages(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("3", "A"), page("1", "B"), page("2", "C")))
	out := filepath.Join(dir, "out", "sorted.xml")

	err := Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil)
	require.NoError(t, err)

	got := readFile(t, out)
	assert.Equal(t, doc(page("1", "B"), page("2", "C"), page("3", "A")), got)
	assert.Len(t, got, len(readFile(t, in)))
}

// 零页：EmptyDocument，不产生目标
func TestRunEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", preamble+trailer)
	out := filepath.Join(dir, "out.xml")

	err := Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil)
	require.ErrorIs(t, err, contract.ErrEmptyDocument)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

// 非数字 id → 0，排在最前
func TestRunNonNumericIDSortsFirst(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("7", "seven"), page("abc", "bad"), page("2", "two")))
	out := filepath.Join(dir, "out.xml")

	require.NoError(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil))
	assert.Equal(t, doc(page("abc", "bad"), page("2", "two"), page("7", "seven")), readFile(t, out))
}

// 重复 id：每页恰好出现一次
func TestRunDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	p1, p2, p3 := page("5", "first"), page("5", "second"), page("1", "one")
	in := writeFile(t, dir, "in.xml", doc(p1, p2, p3))
	out := filepath.Join(dir, "out.xml")

	require.NoError(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: out}}, Verify: true}, nil))
	got := readFile(t, out)
	require.True(t, strings.HasPrefix(got, preamble+p3))
	assert.Equal(t, 1, strings.Count(got, p1))
	assert.Equal(t, 1, strings.Count(got, p2))
	assert.True(t, strings.HasSuffix(got, trailer))
}

// 未闭合 page：格式错误，既有目标保持不变
func TestRunUnterminatedKeepsDestination(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", preamble+page("1", "ok")+"  <page>\n    <id>2</id>\n"+trailer)
	out := writeFile(t, dir, "out.xml", "previous")

	err := Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil)
	require.ErrorIs(t, err, contract.ErrUnterminatedPage)
	assert.Equal(t, "previous", readFile(t, out))
}

// 已排序且 id 唯一：输出与输入逐字节相同
func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	content := doc(page("1", "a"), page("2", "b"), page("10", "c"))
	in := writeFile(t, dir, "in.xml", content)
	out1 := filepath.Join(dir, "out1.xml")
	out2 := filepath.Join(dir, "out2.xml")
	comp := components(t, true, false)

	require.NoError(t, Run(context.Background(), comp, Settings{Jobs: []Job{{Source: in, Dest: out1}}}, nil))
	require.NoError(t, Run(context.Background(), comp, Settings{Jobs: []Job{{Source: out1, Dest: out2}}}, nil))
	assert.Equal(t, content, readFile(t, out1))
	assert.Equal(t, content, readFile(t, out2))
}

// 原子模式下允许目标即源（rename 覆盖）
func TestRunAtomicOverwriteSource(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("2", "b"), page("1", "a")))

	require.NoError(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: in}}}, nil))
	assert.Equal(t, doc(page("1", "a"), page("2", "b")), readFile(t, in))
}

// 非原子模式下目标即源：拒绝且源不变
func TestRunInPlaceSameFileRejected(t *testing.T) {
	dir := t.TempDir()
	content := doc(page("2", "b"), page("1", "a"))
	in := writeFile(t, dir, "in.xml", content)

	err := Run(context.Background(), components(t, false, false), Settings{Jobs: []Job{{Source: in, Dest: in}}}, nil)
	require.ErrorIs(t, err, contract.ErrPathInvalid)
	assert.Equal(t, content, readFile(t, in))
}

// 非原子模式写入不同文件
func TestRunInPlaceOtherFile(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("2", "b"), page("1", "a")))
	out := writeFile(t, dir, "out.xml", strings.Repeat("z", 4096))

	require.NoError(t, Run(context.Background(), components(t, false, false), Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil))
	assert.Equal(t, doc(page("1", "a"), page("2", "b")), readFile(t, out))
}

// 多文档并发
func TestRunManyJobsConcurrently(t *testing.T) {
	dir := t.TempDir()
	var jobs []Job
	for i := 0; i < 12; i++ {
		in := writeFile(t, dir, fmt.Sprintf("in%02d.xml", i), doc(page("9", "z"), page(fmt.Sprint(i), "x"), page("3", "y")))
		jobs = append(jobs, Job{Source: in, Dest: filepath.Join(dir, fmt.Sprintf("out%02d.xml", i))})
	}
	require.NoError(t, Run(context.Background(), components(t, true, true), Settings{Jobs: jobs, Concurrency: 4, Verify: true}, nil))
	for i, j := range jobs {
		got := readFile(t, j.Dest)
		assert.Equal(t, len(readFile(t, j.Source)), len(got), "job %d", i)
		sc, _ := scmk.New(nil)
		l, err := sc.Scan(context.Background(), "out", []byte(got))
		require.NoError(t, err)
		assert.True(t, contract.IsSorted(l.Pages), "job %d", i)
	}
}

// 任一文档失败：返回首错
func TestRunFirstErrorReturned(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.xml", doc(page("1", "a")))
	bad := writeFile(t, dir, "bad.xml", preamble+trailer)
	err := Run(context.Background(), components(t, true, false), Settings{
		Jobs:        []Job{{Source: good, Dest: filepath.Join(dir, "g.out")}, {Source: bad, Dest: filepath.Join(dir, "b.out")}},
		Concurrency: 1,
	}, nil)
	require.ErrorIs(t, err, contract.ErrEmptyDocument)
	_, statErr := os.Stat(filepath.Join(dir, "b.out"))
	assert.True(t, os.IsNotExist(statErr))
}

// 源不存在：IO 错误（*os.PathError）
func TestRunMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: filepath.Join(dir, "nope.xml"), Dest: filepath.Join(dir, "o.xml")}}}, nil)
	var perr *os.PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, diag.CodeIO, diag.Classify(err))
}

// 取消的上下文
func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("1", "a")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: filepath.Join(dir, "o.xml")}}}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// corruptWriter 在正确输出后篡改一个字节，用于验证 Verify 拦截。
type corruptWriter struct{ contract.Writer }

func (w corruptWriter) Write(ctx context.Context, dst, src []byte, l contract.Layout) error {
	if err := w.Writer.Write(ctx, dst, src, l); err != nil {
		return err
	}
	dst[len(dst)-2] ^= 0x20
	return nil
}

func TestRunVerifyBlocksCommit(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("2", "b"), page("1", "a")))
	out := writeFile(t, dir, "out.xml", "previous")
	comp := components(t, true, false)
	comp.Writer = corruptWriter{comp.Writer}

	err := Run(context.Background(), comp, Settings{Jobs: []Job{{Source: in, Dest: out}}, Verify: true}, nil)
	require.ErrorIs(t, err, contract.ErrVerifyFailed)
	assert.Equal(t, diag.CodeVerify, diag.Classify(err))
	assert.Equal(t, "previous", readFile(t, out))

	// 关闭 Verify 时篡改会落盘（对照）
	require.NoError(t, Run(context.Background(), comp, Settings{Jobs: []Job{{Source: in, Dest: out}}}, nil))
	assert.NotEqual(t, "previous", readFile(t, out))
}

// 填充阶段的失败只在该阶段记录一次，sink 不重复记录与计数
func TestRunFillFailureLoggedOnce(t *testing.T) {
	diag.ResetMetrics()
	t.Cleanup(diag.ResetMetrics)
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("2", "b"), page("1", "a")))
	comp := components(t, true, false)
	comp.Writer = corruptWriter{comp.Writer}
	core, logs := observer.New(zap.DebugLevel)
	logger := diag.NewLoggerFromZap("corr-test", zap.New(core))

	err := Run(context.Background(), comp, Settings{Jobs: []Job{{Source: in, Dest: filepath.Join(dir, "o.xml")}}, Verify: true}, logger)
	require.ErrorIs(t, err, contract.ErrVerifyFailed)

	errEvents := logs.FilterField(zap.String("stage", "error"))
	assert.Equal(t, 1, errEvents.FilterField(zap.String("comp", "verify")).Len())
	assert.Equal(t, 0, errEvents.FilterField(zap.String("comp", "sink")).Len())

	snap := diag.Snapshot()
	assert.EqualValues(t, 1, snap["error_total{comp=verify,code=verify}"])
	assert.Zero(t, snap["error_total{comp=sink,code=verify}"])
	assert.Zero(t, snap["op_total{comp=sink,stage=error,result=error}"])
}

// 结构化日志：各阶段 start/finish 与错误事件
func TestRunLogsStages(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("2", "b"), page("1", "a")))
	core, logs := observer.New(zap.DebugLevel)
	logger := diag.NewLoggerFromZap("corr-test", zap.New(core))

	require.NoError(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: filepath.Join(dir, "o.xml")}}, Verify: true}, logger))

	for _, comp := range []string{"pipeline", "source", "scanner", "sorter", "writer", "verify", "sink"} {
		finishes := logs.FilterField(zap.String("comp", comp)).FilterField(zap.String("stage", "finish"))
		assert.GreaterOrEqual(t, finishes.Len(), 1, "comp %s", comp)
	}
	scan := logs.FilterField(zap.String("comp", "scanner")).FilterField(zap.String("stage", "finish")).All()
	require.Len(t, scan, 1)
	assert.EqualValues(t, 2, scan[0].ContextMap()["count"])
	assert.Equal(t, string(contract.NormalizeDocID(in)), scan[0].ContextMap()["doc_id"])

	bad := writeFile(t, dir, "bad.xml", preamble+"  <page>\n"+trailer)
	err := Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: bad, Dest: filepath.Join(dir, "b.xml")}}}, logger)
	require.Error(t, err)
	errs := logs.FilterField(zap.String("comp", "scanner")).FilterField(zap.String("stage", "error")).All()
	require.Len(t, errs, 1)
	assert.Equal(t, "format", errs[0].ContextMap()["code"])
}

// 阶段计数进入指标
func TestRunMetrics(t *testing.T) {
	diag.ResetMetrics()
	t.Cleanup(diag.ResetMetrics)
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("1", "a")))
	require.NoError(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: in, Dest: filepath.Join(dir, "o.xml")}}}, nil))
	bad := writeFile(t, dir, "bad.xml", preamble+trailer)
	require.Error(t, Run(context.Background(), components(t, true, false), Settings{Jobs: []Job{{Source: bad, Dest: filepath.Join(dir, "b.xml")}}}, nil))

	snap := diag.Snapshot()
	assert.EqualValues(t, 1, snap["op_total{comp=sink,stage=finish,result=success}"])
	assert.EqualValues(t, 1, snap["error_total{comp=scanner,code=empty}"])
}

func TestSanity(t *testing.T) {
	comp := components(t, true, false)
	cases := []struct {
		name string
		comp Components
		set  Settings
	}{
		{"missing component", Components{}, Settings{Jobs: []Job{{Source: "a", Dest: "b"}}}},
		{"no jobs", comp, Settings{}},
		{"blank dest", comp, Settings{Jobs: []Job{{Source: "a", Dest: " "}}}},
		{"duplicate dest", comp, Settings{Jobs: []Job{{Source: "a", Dest: "o/x.xml"}, {Source: "b", Dest: "o/../o/x.xml"}}}},
		{"two stdout", comp, Settings{Jobs: []Job{{Source: "a", Dest: "-"}, {Source: "b", Dest: "-"}}}},
		{"two stdin", comp, Settings{Jobs: []Job{{Source: "-", Dest: "x"}, {Source: "-", Dest: "y"}}}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(context.Background(), tt.comp, tt.set, nil)
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "sanity:"))
		})
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.xml", doc(page("5", "a"), page("x", "b"), page("5", "c"), page("12", "d")))
	s, err := Inspect(context.Background(), components(t, true, false), in)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Pages)
	assert.Equal(t, len(preamble), s.PreambleBytes)
	assert.Equal(t, len(trailer), s.TrailerBytes)
	assert.Equal(t, s.Size, s.PreambleBytes+s.PageBytes+s.TrailerBytes)
	assert.EqualValues(t, 0, s.MinID)
	assert.EqualValues(t, 12, s.MaxID)
	assert.Equal(t, 1, s.DuplicateIDs)
	assert.Equal(t, 1, s.ZeroIDs)
	assert.False(t, s.Sorted)

	empty := writeFile(t, dir, "empty.xml", preamble)
	_, err = Inspect(context.Background(), components(t, true, false), empty)
	assert.True(t, errors.Is(err, contract.ErrEmptyDocument))

	_, err = Inspect(context.Background(), Components{}, in)
	assert.Error(t, err)
}
