package registry

import (
	"bytes"
	"encoding/json"

	"pagesort/pkg/contract"
	skfs "pagesort/plugins/sink/filesystem"
	sbid "pagesort/plugins/sorter/byid"
	scmk "pagesort/plugins/scanner/marker"
	srcfs "pagesort/plugins/source/filesystem"
	wlin "pagesort/plugins/writer/linear"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewSource 工厂签名：接收原样 JSON Options。
type NewSource func(raw json.RawMessage) (contract.Source, error)

// NewScanner 工厂签名：接收原样 JSON Options。
type NewScanner func(raw json.RawMessage) (contract.Scanner, error)

// NewSorter 工厂签名：接收原样 JSON Options。
type NewSorter func(raw json.RawMessage) (contract.Sorter, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSink 工厂签名：接收原样 JSON Options。
type NewSink func(raw json.RawMessage) (contract.Sink, error)

// Source 工厂注册表（显式、零反射）。
var Source = map[string]NewSource{
	// fs: 文件系统/STDIN；unix 下默认只读 mmap
	"fs": func(raw json.RawMessage) (contract.Source, error) {
		var opts srcfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return srcfs.New(&opts), nil
	},
}

// Scanner 工厂注册表。
var Scanner = map[string]NewScanner{
	// marker: 按起止标记切分 page，按 id 标记取前导十进制
	"marker": func(raw json.RawMessage) (contract.Scanner, error) {
		var opts scmk.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		sc, err := scmk.New(&opts)
		if err != nil {
			return nil, err
		}
		return sc, nil
	},
}

// Sorter 工厂注册表。
var Sorter = map[string]NewSorter{
	// byid: 按 id 升序；默认不稳定
	"byid": func(raw json.RawMessage) (contract.Sorter, error) {
		var opts sbid.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sbid.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// linear: preamble + 有序 pages + trailer 顺序拷贝
	"linear": func(raw json.RawMessage) (contract.Writer, error) { return wlin.New(raw) },
}

// Sink 工厂注册表。
var Sink = map[string]NewSink{
	// fs: 文件系统/STDOUT（原子替换/原地写可配置）
	"fs": func(raw json.RawMessage) (contract.Sink, error) {
		var opts skfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return skfs.New(&opts), nil
	},
}
