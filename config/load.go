// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/vkguard/vkguard/logx"
)

// Load reads path as TOML into a new Options, after first applying
// `default:` struct-tag values so any field the file omits still gets
// a sane value.
func Load(path string) (*Options, error) {
	opts := &Options{}
	if err := setFromDefaultTags(opts); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return opts, nil
}

// FromEnv builds an Options from `default:` tags alone, then applies a
// small set of VKGUARD_-prefixed environment overrides. It exists for
// quick local runs that don't want to maintain a TOML file.
func FromEnv() (*Options, error) {
	opts := &Options{}
	if err := setFromDefaultTags(opts); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("VKGUARD_FEATURE_MASK"); ok {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("config: VKGUARD_FEATURE_MASK: %w", err)
		}
		opts.FeatureMask = FeatureMask(n)
	}
	if v, ok := os.LookupEnv("VKGUARD_LOG_SEVERITY_MASK"); ok {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("config: VKGUARD_LOG_SEVERITY_MASK: %w", err)
		}
		opts.LogSeverityMask = logx.SeverityMask(n)
	}
	if v, ok := os.LookupEnv("VKGUARD_EXPORT_BUFFER_CAPACITY"); ok {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("config: VKGUARD_EXPORT_BUFFER_CAPACITY: %w", err)
		}
		opts.ExportBufferCapacity = uint32(n)
	}
	return opts, nil
}

// setFromDefaultTags walks cfg's exported fields and assigns the
// parsed `default:` tag value to every field still at its zero value,
// recursing into nested structs.
func setFromDefaultTags(cfg any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: setFromDefaultTags needs a struct pointer, got %T", cfg)
	}
	return setFromDefaultTagsValue(v.Elem())
}

func setFromDefaultTagsValue(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			if err := setFromDefaultTagsValue(fv); err != nil {
				return fmt.Errorf("%s: %w", field.Name, err)
			}
			continue
		}
		tag, ok := field.Tag.Lookup("default")
		if !ok || !fv.IsZero() {
			continue
		}
		if err := setFieldFromString(fv, tag); err != nil {
			return fmt.Errorf("config: field %s default %q: %w", field.Name, tag, err)
		}
	}
	return nil
}

func setFieldFromString(fv reflect.Value, s string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(n)
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}
