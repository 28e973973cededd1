package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Jobs        []Job `json:"jobs"`
	Concurrency int   `json:"concurrency"`
	// Verify: 提交前复核输出；指针以区分“未设置”与显式 false。
	Verify  *bool   `json:"verify,omitempty"`
	Logging Logging `json:"logging"`
	// Walk: 源为目录时的展开规则。
	Walk Walk `json:"walk"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Job: 一个源文档与其目标路径。
type Job struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// Walk: 目录源按扩展名收集文件，跳过指定目录名；nil 表示使用默认。
type Walk struct {
	Exts            []string `json:"exts,omitempty"`
	ExcludeDirNames []string `json:"exclude_dir_names,omitempty"`
}

// Logging: 日志等级与输出目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Source  string `json:"source"`
	Scanner string `json:"scanner"`
	Sorter  string `json:"sorter"`
	Writer  string `json:"writer"`
	Sink    string `json:"sink"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Source  json.RawMessage `json:"source,omitempty"`
	Scanner json.RawMessage `json:"scanner,omitempty"`
	Sorter  json.RawMessage `json:"sorter,omitempty"`
	Writer  json.RawMessage `json:"writer,omitempty"`
	Sink    json.RawMessage `json:"sink,omitempty"`
}
