// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/gomlx/smoothgrad/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ParseSettings from settings -- typically the contents of a flag set by the user -- into target,
// a pointer to a struct with yaml tags (e.g.: *interpret.Options).
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// The params are the yaml names of the fields of target, and the values are parsed as yaml
// into the type of the field. Unknown params are an error.
//
// For integer values, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000 = 1000.
//
// A setting "file:<path>" reads settings from the file, one or more per line, separated by ";".
// Empty lines and lines starting with "#" are ignored.
//
// It returns the list of params set, in the order they were set.
func ParseSettings(target any, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(target, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

var integerWithSeparators = regexp.MustCompile(`^[-+]?\d[\d_]*$`)

func parseSetting(target any, setting string, paramsSet []string) ([]string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		filePath, err := fsutil.ExpandHome(filePath)
		if err != nil {
			return paramsSet, err
		}
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				paramsSet, err = parseSetting(target, lineSetting, paramsSet)
				if err != nil {
					return paramsSet, err
				}
			}
		}
		return paramsSet, nil
	}

	param, valueStr, found := strings.Cut(setting, "=")
	param = strings.TrimSpace(param)
	if !found || param == "" {
		return paramsSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
	}
	valueStr = strings.TrimSpace(valueStr)
	if integerWithSeparators.MatchString(valueStr) {
		valueStr = strings.ReplaceAll(valueStr, "_", "")
	}
	node := yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: param},
			{Kind: yaml.ScalarNode, Value: valueStr},
		},
	}
	encoded, err := yaml.Marshal(&node)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to encode setting %q", setting)
	}
	if err = DecodeYAML(encoded, target); err != nil {
		return paramsSet, errors.WithMessagef(err, "failed to parse value %q for parameter %q", valueStr, param)
	}
	return append(paramsSet, param), nil
}

// DecodeYAML decodes the yaml document in contents into target, a pointer to a struct with yaml tags.
// Fields not present in contents keep their values.
//
// Unknown fields are an error, and so are values that are not integers for integer fields (yaml.v3
// would otherwise truncate a float like 3.14 to 3).
func DecodeYAML(contents []byte, target any) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return errors.Wrap(err, "failed to parse yaml")
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		if err := checkIntegerFields(doc.Content[0], reflect.TypeOf(target)); err != nil {
			return err
		}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "failed to decode yaml")
	}
	return nil
}

// checkIntegerFields returns an error if any value of the mapping node is not an integer while
// the corresponding field of t is.
func checkIntegerFields(node *yaml.Node, t reflect.Type) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if node.Kind != yaml.MappingNode || t.Kind() != reflect.Struct {
		return nil
	}
	for ii := 0; ii+1 < len(node.Content); ii += 2 {
		key, value := node.Content[ii], node.Content[ii+1]
		field, found := yamlField(t, key.Value)
		if !found {
			// Reported as an unknown field by the decoder.
			continue
		}
		switch field.Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if value.Kind != yaml.ScalarNode || !integerWithSeparators.MatchString(value.Value) {
				return errors.Errorf("parameter %q requires an integer, got %q", key.Value, value.Value)
			}
		case reflect.Struct, reflect.Pointer:
			if err := checkIntegerFields(value, field.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

// yamlField finds the field of the struct type t with the given yaml name, looking into inlined structs.
func yamlField(t reflect.Type, name string) (reflect.StructField, bool) {
	for ii := range t.NumField() {
		field := t.Field(ii)
		tagName, tagOptions, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if tagName == "-" || !field.IsExported() {
			continue
		}
		if strings.Contains(tagOptions, "inline") {
			inlined := field.Type
			for inlined.Kind() == reflect.Pointer {
				inlined = inlined.Elem()
			}
			if inlined.Kind() == reflect.Struct {
				if found, ok := yamlField(inlined, name); ok {
					return found, true
				}
			}
			continue
		}
		if tagName == "" {
			tagName = strings.ToLower(field.Name)
		}
		if tagName == name {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// SprintSettings pretty-prints the current values of the yaml fields of target.
func SprintSettings(target any) string {
	encoded, err := yaml.Marshal(target)
	if err != nil {
		return fmt.Sprintf("<failed to encode settings: %v>", err)
	}
	lines := strings.Split(strings.TrimSpace(string(encoded)), "\n")
	for ii, line := range lines {
		lines[ii] = "\t" + line
	}
	return strings.Join(lines, "\n")
}
