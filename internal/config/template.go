package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 单个 job：dump.xml → sorted.xml（源为目录时按 walk 展开）；
// - 组件名采用仓库内置实现；
// - 选项包含全部键，值为默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	verify := false
	cfg := Config{
		Jobs:        []Job{{Source: "dump.xml", Dest: "sorted.xml"}},
		Concurrency: d.Concurrency,
		Verify:      &verify,
		Logging:     d.Logging,
		Walk:        d.Walk,
		Components:  d.Components,
	}
	cfg.Options.Source = json.RawMessage(`{
  "mmap": true
}`)
	cfg.Options.Scanner = json.RawMessage(`{
  "start_marker": "  <page>",
  "end_marker": "  </page>\n",
  "id_marker": "<id>"
}`)
	cfg.Options.Sorter = json.RawMessage(`{
  "stable": false
}`)
	// linear 无配置项，保持空对象
	cfg.Options.Writer = json.RawMessage(`{}`)
	cfg.Options.Sink = json.RawMessage(`{
  "atomic": true,
  "mmap": true,
  "perm_file": 420,
  "perm_dir": 493
}`)
	return cfg
}
