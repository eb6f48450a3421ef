// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "x"))
	base := errors.New("base")
	err := WrapError(base, "load %s", "config.yaml")
	assert.EqualError(t, err, "load config.yaml: base")
	assert.True(t, errors.Is(err, base))
}

func TestMarshalJSONBytes_NoHTMLEscape(t *testing.T) {
	js, err := MarshalJSONBytes(map[string]string{"hook": "<b>you & me</b>"})
	assert.NoError(t, err)
	assert.Equal(t, `{"hook":"<b>you & me</b>"}`, string(js))
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "Here you go:\n```json\n{\"titles\":[\"x\"]}\n```", `{"titles":["x"]}`, true},
		{"nested", `pre {"a":{"b":2}} post {"c":3}`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"s":"}{","n":1}`, `{"s":"}{","n":1}`, true},
		{"escaped quote", `{"s":"a\"}b"}`, `{"s":"a\"}b"}`, true},
		{"none", "plain text", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
