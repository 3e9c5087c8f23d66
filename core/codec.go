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

package core

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
)

// codecVersion is the first byte of every encoding.
const codecVersion = 1

// Tags for constant values.
const (
	tagInt64 byte = iota + 1
	tagFloat64
	tagString
	tagBool
)

// ErrBadEncoding occurs when Unmarshal is given bytes that Marshal
// didn't produce.
var ErrBadEncoding = errors.New("bad expression encoding")

// Marshal encodes the structure of the expression.  Evaluation state
// isn't included.
func Marshal(e Expression) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codecVersion)
	if err := encode(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes what Marshal produced.
func Unmarshal(bs []byte) (Expression, error) {
	r := bufio.NewReader(bytes.NewReader(bs))
	v, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadEncoding
	}
	if v != codecVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadEncoding, v)
	}
	e, err := decode(r, 0)
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes", ErrBadEncoding)
	}
	return e, nil
}

func writeUvarint(w *bytes.Buffer, n uint64) {
	var bs [binary.MaxVarintLen64]byte
	w.Write(bs[:binary.PutUvarint(bs[:], n)])
}

func writeVarint(w *bytes.Buffer, n int64) {
	var bs [binary.MaxVarintLen64]byte
	w.Write(bs[:binary.PutVarint(bs[:], n)])
}

func writeString(w *bytes.Buffer, s string) {
	writeUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func encode(w *bytes.Buffer, e Expression) error {
	if e == nil {
		return ErrNilChild
	}
	w.WriteByte(byte(e.Kind()))
	switch x := e.(type) {
	case *ConstantExpression:
		switch v := x.value.(type) {
		case int64:
			w.WriteByte(tagInt64)
			writeVarint(w, v)
		case float64:
			w.WriteByte(tagFloat64)
			var bs [8]byte
			binary.BigEndian.PutUint64(bs[:], math.Float64bits(v))
			w.Write(bs[:])
		case string:
			w.WriteByte(tagString)
			writeString(w, v)
		case bool:
			w.WriteByte(tagBool)
			if v {
				w.WriteByte(1)
			} else {
				w.WriteByte(0)
			}
		default:
			return fmt.Errorf("can't encode constant %T", v)
		}
		return nil
	case *SensorValueExpression:
		writeString(w, x.Entity)
		writeString(w, x.ValuePath)
		keys := make([]string, 0, len(x.Config))
		for k := range x.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeUvarint(w, uint64(len(keys)))
		for _, k := range keys {
			writeString(w, k)
			writeString(w, x.Config[k])
		}
		w.WriteByte(byte(x.Mode))
		writeVarint(w, int64(x.Timespan))
		return nil
	case *ComparisonExpression:
		writeString(w, string(x.op))
	case *LogicalExpression:
		writeString(w, string(x.op))
	case *MathExpression:
		writeString(w, string(x.op))
	case *ConditionalExpression:
	default:
		return fmt.Errorf("can't encode %T", e)
	}
	for _, c := range e.Children() {
		if err := encode(w, c); err != nil {
			return err
		}
	}
	return nil
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

func readString(r byteReader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", ErrBadEncoding
	}
	if 1<<20 < n {
		return "", fmt.Errorf("%w: string too long", ErrBadEncoding)
	}
	bs := make([]byte, n)
	if _, err := io.ReadFull(r, bs); err != nil {
		return "", ErrBadEncoding
	}
	return string(bs), nil
}

// decode reads a node that is depth levels below the root.
func decode(r byteReader, depth int) (Expression, error) {
	if MaxDepth < depth {
		return nil, fmt.Errorf("%w: %w", ErrBadEncoding, ErrTooDeep)
	}
	k, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadEncoding
	}
	switch Kind(k) {
	case KindConstant:
		return decodeConstant(r)
	case KindSensorValue:
		return decodeSensorValue(r)
	case KindComparison, KindLogical, KindMath:
		op, err := readString(r)
		if err != nil {
			return nil, err
		}
		if Kind(k) == KindLogical && LogicalOp(op) == OpNot {
			x, err := decode(r, depth+1)
			if err != nil {
				return nil, err
			}
			return NewNot(x)
		}
		l, err := decode(r, depth+1)
		if err != nil {
			return nil, err
		}
		rt, err := decode(r, depth+1)
		if err != nil {
			return nil, err
		}
		switch Kind(k) {
		case KindComparison:
			return NewComparison(l, ComparisonOp(op), rt)
		case KindLogical:
			return NewLogical(l, LogicalOp(op), rt)
		}
		return NewMath(l, MathOp(op), rt)
	case KindConditional:
		var cs [3]Expression
		for i := range cs {
			if cs[i], err = decode(r, depth+1); err != nil {
				return nil, err
			}
		}
		return NewConditional(cs[0], cs[1], cs[2])
	}
	return nil, fmt.Errorf("%w: kind %d", ErrBadEncoding, k)
}

func decodeConstant(r byteReader) (Expression, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadEncoding
	}
	switch tag {
	case tagInt64:
		n, err := binary.ReadVarint(r)
		if err != nil {
			return nil, ErrBadEncoding
		}
		return NewConstant(n)
	case tagFloat64:
		var bs [8]byte
		if _, err := io.ReadFull(r, bs[:]); err != nil {
			return nil, ErrBadEncoding
		}
		e, err := NewConstant(math.Float64frombits(binary.BigEndian.Uint64(bs[:])))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
		}
		return e, nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		return NewConstant(s)
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, ErrBadEncoding
		}
		return NewConstant(b != 0)
	}
	return nil, fmt.Errorf("%w: constant tag %d", ErrBadEncoding, tag)
}

func decodeSensorValue(r byteReader) (Expression, error) {
	entity, err := readString(r)
	if err != nil {
		return nil, err
	}
	path, err := readString(r)
	if err != nil {
		return nil, err
	}
	n, err := binary.ReadUvarint(r)
	if err != nil || 1<<16 < n {
		return nil, ErrBadEncoding
	}
	var config map[string]string
	if 0 < n {
		config = make(map[string]string, n)
	}
	for i := uint64(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		config[k] = v
	}
	m, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadEncoding
	}
	ts, err := binary.ReadVarint(r)
	if err != nil {
		return nil, ErrBadEncoding
	}
	e, err := NewSensorValue(entity, path, config, Mode(m), time.Duration(ts))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEncoding, err)
	}
	return e, nil
}
