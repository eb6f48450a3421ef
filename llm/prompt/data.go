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
	"fmt"
)

// Data is what stage templates are rendered against.
//
//	{{.Text 3}}              raw text of stage 3
//	{{.Field 4 "titles"}}    a field of stage 4
//	{{.First 4 "titles"}}    first element of a list field, or the field itself
//	{{.Param "topic"}}       a run param as a string
type Data struct {
	Task    string
	Stage   int
	Variant string
	Params  map[string]any
	Stages  map[int]map[string]any
}

// Text returns the raw output text of stage n, or "".
func (d Data) Text(n int) string {
	s, _ := d.Stages[n]["outputText"].(string)
	return s
}

// Field returns a field of stage n, or nil.
func (d Data) Field(n int, name string) any {
	return d.Stages[n][name]
}

// First returns the first element of a list field as a string.
func (d Data) First(n int, name string) string {
	switch v := d.Field(n, name).(type) {
	case nil:
		return ""
	case []any:
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprint(v[0])
	case []string:
		if len(v) == 0 {
			return ""
		}
		return v[0]
	default:
		return fmt.Sprint(v)
	}
}

// Param returns a run param formatted as a string, or "".
func (d Data) Param(name string) string {
	v, ok := d.Params[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
