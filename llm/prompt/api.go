/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package prompt

import (
	"bytes"
	"embed"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/cloudwego/contentflow/internal/utils"
)

// Prompt is a fixed prompt text, e.g. a system prompt.
type Prompt interface {
	String() string
}

type TextPrompt string

func (p TextPrompt) String() string {
	return string(p)
}

func NewTextPrompt(content string) Prompt {
	return TextPrompt(content)
}

// Template is a parsed stage prompt. Plain-text prompts render verbatim.
type Template struct {
	name string
	text string
	tpl  *template.Template
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"json": func(v any) (string, error) {
		bs, err := utils.MarshalJSONBytes(v)
		return string(bs), err
	},
	"default": func(def, v any) any {
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok && s == "" {
			return def
		}
		return v
	},
}

// Parse compiles a go-template prompt.
func Parse(name, text string) (*Template, error) {
	tpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "parse prompt %s", name)
	}
	return &Template{name: name, text: text, tpl: tpl}, nil
}

// Plain returns a prompt that renders text unchanged.
func Plain(name, text string) *Template {
	return &Template{name: name, text: text}
}

func (t *Template) Name() string { return t.name }

// Source returns the unrendered template text.
func (t *Template) Source() string { return t.text }

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	if t.tpl == nil {
		return t.text, nil
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render prompt %s", t.name)
	}
	return strings.TrimSpace(buf.String()), nil
}

type FilePrompt struct {
	Type PromptType `json:"type" yaml:"type"`
	Path string     `json:"path" yaml:"path"`
}

type PromptType string

const (
	PromptTypePlainText  PromptType = "text"
	PromptTypeGoTemplate PromptType = "go-template"
)

// NewFilePrompt loads a prompt file. An empty type means go-template.
func NewFilePrompt(name string, c *FilePrompt) (*Template, error) {
	bs, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read prompt %s", name)
	}
	switch c.Type {
	case PromptTypePlainText:
		return Plain(name, string(bs)), nil
	case PromptTypeGoTemplate, "":
		return Parse(name, string(bs))
	default:
		return nil, errors.Errorf("prompt %s: unsupported type %q", name, c.Type)
	}
}

//go:embed templates/*.tmpl
var builtin embed.FS

//go:embed system.md
var SystemPrompt string

// Builtin returns the bundled template for a task key.
func Builtin(key string) (*Template, bool) {
	bs, err := builtin.ReadFile(path.Join("templates", key+".tmpl"))
	if err != nil {
		return nil, false
	}
	t, err := Parse(key, string(bs))
	if err != nil {
		// bundled templates are covered by tests
		panic(err)
	}
	return t, true
}

// BuiltinKeys lists the task keys with a bundled template.
func BuiltinKeys() []string {
	entries, _ := builtin.ReadDir("templates")
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, strings.TrimSuffix(e.Name(), ".tmpl"))
	}
	sort.Strings(keys)
	return keys
}
