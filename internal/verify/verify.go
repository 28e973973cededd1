// Package verify 在提交前复核排序结果：
// 重新扫描目标缓冲区，证明输出与源仅在页顺序上不同。
package verify

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"pagesort/pkg/contract"
)

// digest: 页内容摘要；Sum 相同再逐字节比较。
type digest struct {
	sum  uint64
	body []byte
}

// Check 复核 dst 是否为 src 按 id 重排后的结果：
//  1. 长度相同；
//  2. 前导与尾随逐字节相同；
//  3. 页数相同，且 dst 中页 id 非降序；
//  4. 页内容多重集合相等（xxhash64 + 字节比较）。
//
// src 的 layout 可为排序前或排序后（仅使用页集合与边界）。
func Check(ctx context.Context, sc contract.Scanner, src, dst []byte, layout contract.Layout) error {
	if len(dst) != len(src) {
		return fmt.Errorf("%w: length %d != %d", contract.ErrVerifyFailed, len(dst), len(src))
	}
	if !bytes.Equal(layout.Preamble.Bytes(dst), layout.Preamble.Bytes(src)) {
		return fmt.Errorf("%w: preamble differs", contract.ErrVerifyFailed)
	}
	if !bytes.Equal(layout.Trailer.Bytes(dst), layout.Trailer.Bytes(src)) {
		return fmt.Errorf("%w: trailer differs", contract.ErrVerifyFailed)
	}
	out, err := sc.Scan(ctx, layout.Doc, dst)
	if err != nil {
		return fmt.Errorf("%w: rescan: %w", contract.ErrVerifyFailed, err)
	}
	if len(out.Pages) != len(layout.Pages) {
		return fmt.Errorf("%w: %d pages written, %d scanned", contract.ErrVerifyFailed, len(out.Pages), len(layout.Pages))
	}
	if out.Preamble != layout.Preamble || out.Trailer != layout.Trailer {
		return fmt.Errorf("%w: page region moved", contract.ErrVerifyFailed)
	}
	if !contract.IsSorted(out.Pages) {
		return fmt.Errorf("%w: ids not in ascending order", contract.ErrVerifyFailed)
	}
	want := digests(src, layout.Pages)
	got := digests(dst, out.Pages)
	for i := range want {
		if want[i].sum != got[i].sum || !bytes.Equal(want[i].body, got[i].body) {
			return fmt.Errorf("%w: page contents differ", contract.ErrVerifyFailed)
		}
	}
	return nil
}

// digests 计算各页摘要并按 (sum, body) 排序，得到可逐项比较的多重集合。
func digests(buf []byte, pages []contract.Page) []digest {
	out := make([]digest, len(pages))
	for i, p := range pages {
		body := p.Bytes(buf)
		out[i] = digest{sum: xxhash.Sum64(body), body: body}
	}
	slices.SortFunc(out, func(a, b digest) int {
		if c := cmp.Compare(a.sum, b.sum); c != 0 {
			return c
		}
		return bytes.Compare(a.body, b.body)
	})
	return out
}
