package email

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Format selects how template data is serialised for the provider.
type Format int

const (
	// FormatObject encodes data as a JSON object: {"name":"value"}.
	FormatObject Format = iota
	// FormatNameValueList encodes data as [{"Name":"name","Value":"value"}],
	// the shape the local SES emulator expects.
	FormatNameValueList
)

type nameValue struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// DefaultTemplateData is the payload sent when an entry carries no data.
func (f Format) DefaultTemplateData() string {
	if f == FormatNameValueList {
		return "[]"
	}
	return "{}"
}

// Encode serialises data. Keys are emitted in sorted order so the same
// input always yields the same bytes.
func (f Format) Encode(data map[string]string) (string, error) {
	if len(data) == 0 {
		return f.DefaultTemplateData(), nil
	}
	if f == FormatObject {
		b, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("email: encode template data: %w", err)
		}
		return string(b), nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	list := make([]nameValue, len(keys))
	for i, k := range keys {
		list[i] = nameValue{Name: k, Value: data[k]}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("email: encode template data: %w", err)
	}
	return string(b), nil
}

// FromHeader formats a sender as Name<address>. An empty name yields the bare
// address.
func FromHeader(name, addr string) string {
	if name == "" {
		return addr
	}
	return name + "<" + addr + ">"
}
