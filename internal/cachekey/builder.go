// Package cachekey derives deterministic content addresses for simulation
// results. A key is a pure function of (model content, normalized parameters,
// engine version); nothing else may influence it.
package cachekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/tinix84/pyplecs-sub000/internal/sim"
)

// DefaultFloatPrecision absorbs representation noise from upstream producers
// (optimizer-perturbed values that are semantically identical).
const DefaultFloatPrecision = 9

type Builder struct {
	// FloatPrecision is the number of decimal digits numeric parameters are
	// rounded to before hashing.
	FloatPrecision int
	exclude        map[string]struct{}
}

// New returns a Builder that drops the named volatile parameters (timestamps,
// run identifiers) from cache identity.
func New(floatPrecision int, excludeKeys []string) *Builder {
	if floatPrecision <= 0 {
		floatPrecision = DefaultFloatPrecision
	}
	ex := make(map[string]struct{}, len(excludeKeys))
	for _, k := range excludeKeys {
		ex[k] = struct{}{}
	}
	return &Builder{FloatPrecision: floatPrecision, exclude: ex}
}

// Key hashes content, canonical parameters and engine version, in that fixed
// order, into a hex digest. Segments are length-prefixed so no boundary
// ambiguity between them can produce a collision.
func (b *Builder) Key(ref sim.JobReference, params sim.ParameterSet) (string, error) {
	canon, err := b.Canonical(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	writeSegment(h, ref.Content)
	writeSegment(h, canon)
	writeSegment(h, []byte(ref.EngineVersion))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical returns the byte-stable serialized form of a parameter set:
// excluded keys dropped, numbers rounded to FloatPrecision decimals, keys
// sorted lexicographically. encoding/json marshals map keys sorted, which is
// exactly the canonical ordering required.
func (b *Builder) Canonical(params sim.ParameterSet) ([]byte, error) {
	norm, err := b.Normalize(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// Normalize filters and rounds a parameter set into the string form used for
// both hashing and cache metadata.
func (b *Builder) Normalize(params sim.ParameterSet) (map[string]string, error) {
	norm := make(map[string]string, len(params))
	for k, v := range params {
		if _, skip := b.exclude[k]; skip {
			continue
		}
		s, err := b.formatValue(k, v)
		if err != nil {
			return nil, err
		}
		norm[k] = s
	}
	return norm, nil
}

func (b *Builder) formatValue(name string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "s:" + x, nil
	case bool:
		return "b:" + strconv.FormatBool(x), nil
	case float64:
		return "n:" + b.formatFloat(x), nil
	case float32:
		return "n:" + b.formatFloat(float64(x)), nil
	case int:
		return "n:" + b.formatFloat(float64(x)), nil
	case int32:
		return "n:" + b.formatFloat(float64(x)), nil
	case int64:
		return "n:" + b.formatFloat(float64(x)), nil
	case uint:
		return "n:" + b.formatFloat(float64(x)), nil
	case uint32:
		return "n:" + b.formatFloat(float64(x)), nil
	case uint64:
		return "n:" + b.formatFloat(float64(x)), nil
	default:
		return "", fmt.Errorf("parameter %q has unhashable type %T", name, v)
	}
}

// formatFloat renders every numeric value with exactly FloatPrecision
// decimals, so 0.1+0.2 and 0.3 serialize identically and an int and its
// float twin collapse to one representation.
func (b *Builder) formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "+inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'f', b.FloatPrecision, 64)
	// -0.000000000 and 0.000000000 are the same rounded value.
	if s == "-0."+zeros(b.FloatPrecision) {
		s = "0." + zeros(b.FloatPrecision)
	}
	return s
}

func zeros(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = '0'
	}
	return string(buf)
}

func writeSegment(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write(b)
}
