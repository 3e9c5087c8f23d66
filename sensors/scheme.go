/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sensors

import (
	"encoding/json"
)

// Scheme describes the record a sensor produces, in the style of an
// Avro record schema.
type Scheme struct {
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Namespace string  `json:"namespace,omitempty"`
	Doc       string  `json:"doc,omitempty"`
	Fields    []Field `json:"fields"`
}

// Field is one value path of a Scheme.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Doc  string `json:"doc,omitempty"`
}

// Primitive field types.
const (
	TypeDouble  = "double"
	TypeLong    = "long"
	TypeString  = "string"
	TypeBoolean = "boolean"
)

// NewScheme makes a record Scheme for a sensor.
func NewScheme(name string, fields ...Field) Scheme {
	return Scheme{
		Type:      "record",
		Name:      name,
		Namespace: "context.sensor",
		Fields:    fields,
	}
}

// Paths returns the field names, which are the value paths.
func (s Scheme) Paths() []string {
	acc := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		acc[i] = f.Name
	}
	return acc
}

func (s Scheme) String() string {
	js, err := json.Marshal(s)
	if err != nil {
		return s.Name
	}
	return string(js)
}
