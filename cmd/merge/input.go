package merge

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

const maxLineSize = 16 * 1024 * 1024

// DecodeResources reads the resources to merge. The input is either one JSON document (a
// Bundle, an array of resources or a single resource) or newline delimited resources.
func DecodeResources(r io.Reader) ([]resource.Resource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if gjson.ValidBytes(data) {
		return decodeDocument(gjson.ParseBytes(data))
	}

	return decodeLines(data)
}

func decodeDocument(doc gjson.Result) ([]resource.Resource, error) {
	switch {
	case doc.IsArray():
		var out []resource.Resource
		for i, item := range doc.Array() {
			res, err := decodeResource(item.Raw)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, res)
		}
		return out, nil
	case doc.Get("resourceType").String() == "Bundle":
		var out []resource.Resource
		for i, entry := range doc.Get("entry").Array() {
			raw := entry.Get("resource")
			if !raw.Exists() {
				continue
			}
			res, err := decodeResource(raw.Raw)
			if err != nil {
				return nil, fmt.Errorf("bundle entry %d: %w", i, err)
			}
			out = append(out, res)
		}
		return out, nil
	default:
		res, err := decodeResource(doc.Raw)
		if err != nil {
			return nil, err
		}
		return []resource.Resource{res}, nil
	}
}

func decodeLines(data []byte) ([]resource.Resource, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []resource.Resource
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		res, err := decodeResource(string(text))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	return out, nil
}

func decodeResource(raw string) (resource.Resource, error) {
	res, err := resource.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("decode resource: not an object")
	}
	return res, nil
}
