package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖的统一前缀。
const EnvPrefix = "PAGESORT_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Concurrency: 1,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Walk:        Walk{Exts: []string{".xml"}, ExcludeDirNames: []string{".git"}},
		Components: Components{
			Source:  "fs",
			Scanner: "marker",
			Sorter:  "byid",
			Writer:  "linear",
			Sink:    "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置：先解码为通用树，再归一为 JSON 走同一严格解码路径，
// 因此 options 子树在两种格式下等价。
func LoadYAML(data []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	if tree == nil {
		return Config{}, errors.New("yaml: empty document")
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Config{}, fmt.Errorf("yaml: normalize: %w", err)
	}
	return LoadJSON("", raw)
}

// LoadFile 按扩展名选择解析器：.yaml/.yml 为 YAML，其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		return LoadYAML(data)
	default:
		return LoadJSON(path, nil)
	}
}

// DiscoverFile 返回 dir 下默认配置文件（pagesort.json 优先于 pagesort.yaml/.yml）；不存在时返回空串。
func DiscoverFile(dir string) string {
	for _, name := range []string{"pagesort.json", "pagesort.yaml", "pagesort.yml"} {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Jobs) > 0 {
		out.Jobs = cloneJobs(over.Jobs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.Verify != nil {
		v := *over.Verify
		out.Verify = &v
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if strings.TrimSpace(over.Logging.Dir) != "" {
		out.Logging.Dir = strings.TrimSpace(over.Logging.Dir)
	}
	if over.Walk.Exts != nil {
		out.Walk.Exts = slices.Clone(over.Walk.Exts)
	}
	if over.Walk.ExcludeDirNames != nil {
		out.Walk.ExcludeDirNames = slices.Clone(over.Walk.ExcludeDirNames)
	}

	// 组件名（空不覆盖）
	if over.Components.Source != "" {
		out.Components.Source = over.Components.Source
	}
	if over.Components.Scanner != "" {
		out.Components.Scanner = over.Components.Scanner
	}
	if over.Components.Sorter != "" {
		out.Components.Sorter = over.Components.Sorter
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Sink != "" {
		out.Components.Sink = over.Components.Sink
	}

	// Options（完整替换对应键）
	if len(over.Options.Source) > 0 {
		out.Options.Source = cloneRaw(over.Options.Source)
	}
	if len(over.Options.Scanner) > 0 {
		out.Options.Scanner = cloneRaw(over.Options.Scanner)
	}
	if len(over.Options.Sorter) > 0 {
		out.Options.Sorter = cloneRaw(over.Options.Sorter)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Sink) > 0 {
		out.Options.Sink = cloneRaw(over.Options.Sink)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 PAGESORT_；支持：SOURCE+DEST（单个 job）、CONCURRENCY、VERIFY、LOG_LEVEL、LOG_DIR、
// WALK_EXTS、WALK_EXCLUDE_DIRS（逗号分隔）、COMPONENTS_<NAME>、OPTIONS_<NAME>_JSON。CONFIG_FILE/CONFIG_JSON 由调用方处理，此处忽略。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	var job Job
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		// 空值视为未设置，避免清空配置文件中的值
		if strings.TrimSpace(val) == "" {
			continue
		}
		switch key {
		case "SOURCE":
			job.Source = strings.TrimSpace(val)
		case "DEST":
			job.Dest = strings.TrimSpace(val)
		case "CONCURRENCY":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %sCONCURRENCY: %w", EnvPrefix, err)
			}
			over.Concurrency = v
		case "VERIFY":
			v, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return over, fmt.Errorf("env %sVERIFY: %w", EnvPrefix, err)
			}
			over.Verify = &v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "WALK_EXTS":
			over.Walk.Exts = splitList(val)
		case "WALK_EXCLUDE_DIRS":
			over.Walk.ExcludeDirNames = splitList(val)
		case "COMPONENTS_SOURCE":
			over.Components.Source = strings.TrimSpace(val)
		case "COMPONENTS_SCANNER":
			over.Components.Scanner = strings.TrimSpace(val)
		case "COMPONENTS_SORTER":
			over.Components.Sorter = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "COMPONENTS_SINK":
			over.Components.Sink = strings.TrimSpace(val)
		default:
			// OPTIONS_<NAME>_JSON：原样 JSON
			if strings.HasPrefix(key, "OPTIONS_") && strings.HasSuffix(key, "_JSON") {
				name := strings.TrimSuffix(strings.TrimPrefix(key, "OPTIONS_"), "_JSON")
				if !json.Valid([]byte(val)) {
					return over, fmt.Errorf("env %s%s: invalid JSON", EnvPrefix, key)
				}
				raw := json.RawMessage(val)
				switch name {
				case "SOURCE":
					over.Options.Source = raw
				case "SCANNER":
					over.Options.Scanner = raw
				case "SORTER":
					over.Options.Sorter = raw
				case "WRITER":
					over.Options.Writer = raw
				case "SINK":
					over.Options.Sink = raw
				default:
					return over, fmt.Errorf("env %s%s: unknown component %q (want SOURCE|SCANNER|SORTER|WRITER|SINK)", EnvPrefix, key, name)
				}
			}
		}
	}
	switch {
	case job.Source != "" && job.Dest != "":
		over.Jobs = []Job{job}
	case job.Source != "" || job.Dest != "":
		return over, fmt.Errorf("env: %sSOURCE and %sDEST must be set together", EnvPrefix, EnvPrefix)
	}
	return over, nil
}

// SetOption 在原样 JSON 对象 raw 上设置单个键（CLI 开关映射到组件 Options）。
func SetOption(raw json.RawMessage, key string, val any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("options: %w", err)
		}
		if m == nil { // 字面量 null
			m = map[string]json.RawMessage{}
		}
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	m[key] = b
	return json.Marshal(m)
}

func cloneJobs(in []Job) []Job {
	if len(in) == 0 {
		return nil
	}
	out := make([]Job, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// splitList 逗号分隔，去空白与空项。
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
