package json

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

type Plain struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`

	AdditionalFields map[string]interface{}
}

type Inner struct {
	Key string `json:"key"`

	AdditionalFields map[string]interface{}
}

type Outer struct {
	Inner  Inner             `json:"inner"`
	Slice  []Inner           `json:"slice,omitempty"`
	ByName map[string]Inner  `json:"byName,omitempty"`
	Ptr    *Inner            `json:"ptr,omitempty"`
	Hidden string            `json:"-"`
	Tags   map[string]string `json:"tags,omitempty"`

	AdditionalFields map[string]interface{}
}

type Embedded struct {
	Base
	Extra string `json:"extra"`

	AdditionalFields map[string]interface{}
}

type Base struct {
	ID string `json:"id"`
}

// custom implements stdlib json.Marshaler and Unmarshaler, which must take
// precedence over the reflection path.
type custom struct {
	v string
}

func (c custom) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", "custom:"+c.v)), nil
}

func (c *custom) UnmarshalJSON(b []byte) error {
	var s string
	if err := stdjson.Unmarshal(b, &s); err != nil {
		return err
	}
	c.v = s[len("custom:"):]
	return nil
}

type hasCustom struct {
	Field custom `json:"field"`

	AdditionalFields map[string]interface{}
}

func TestUnmarshalCapturesUnknownFields(t *testing.T) {
	b := []byte(`{"name":"x","count":3,"mystery":"value","num":7}`)

	got := Plain{}
	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnmarshalCapturesUnknownFields: got err == %s, want err == nil", err)
	}

	want := Plain{
		Name:  "x",
		Count: 3,
		AdditionalFields: map[string]interface{}{
			"mystery": stdjson.RawMessage(`"value"`),
			"num":     stdjson.RawMessage(`7`),
		},
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestUnmarshalCapturesUnknownFields: -want/+got:\n%s", diff)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		desc string
		b    []byte
		i    interface{}
	}{
		{desc: "non-pointer", b: []byte(`{}`), i: Plain{}},
		{desc: "pointer to non-struct", b: []byte(`{}`), i: new(int)},
		{desc: "not a JSON object", b: []byte(`[1,2]`), i: &Plain{}},
	}
	for _, test := range tests {
		if err := Unmarshal(test.b, test.i); err == nil {
			t.Errorf("TestUnmarshalErrors(%s): got err == nil, want err != nil", test.desc)
		}
	}
}

func TestRoundTripPreservesUnknownFields(t *testing.T) {
	// Simulates reading a cache entry written by an implementation that knows
	// fields this one does not: they must survive a decode/encode cycle.
	in := []byte(`{"inner":{"key":"k","innerExtra":true},"name":"top","slice":[{"key":"a","x":1}],"byName":{"one":{"key":"b","y":2}}}`)

	got := Outer{}
	if err := Unmarshal(in, &got); err != nil {
		t.Fatalf("TestRoundTripPreservesUnknownFields: Unmarshal: %s", err)
	}

	if got.Inner.Key != "k" {
		t.Errorf("TestRoundTripPreservesUnknownFields: got Inner.Key == %q, want %q", got.Inner.Key, "k")
	}
	if _, ok := got.Inner.AdditionalFields["innerExtra"]; !ok {
		t.Errorf("TestRoundTripPreservesUnknownFields: nested unknown field was not captured")
	}
	if _, ok := got.AdditionalFields["name"]; !ok {
		t.Errorf("TestRoundTripPreservesUnknownFields: top level unknown field was not captured")
	}

	out, err := Marshal(got)
	if err != nil {
		t.Fatalf("TestRoundTripPreservesUnknownFields: Marshal: %s", err)
	}

	var wantMap, gotMap map[string]interface{}
	if err := stdjson.Unmarshal(in, &wantMap); err != nil {
		panic(err)
	}
	if err := stdjson.Unmarshal(out, &gotMap); err != nil {
		t.Fatalf("TestRoundTripPreservesUnknownFields: output was not valid JSON: %s", err)
	}
	if diff := pretty.Compare(wantMap, gotMap); diff != "" {
		t.Errorf("TestRoundTripPreservesUnknownFields: -want/+got:\n%s", diff)
	}
}

func TestMarshalOmitEmptyAndSkip(t *testing.T) {
	b, err := Marshal(Outer{Inner: Inner{Key: "k"}, Hidden: "secret"})
	if err != nil {
		t.Fatalf("TestMarshalOmitEmptyAndSkip: got err == %s, want err == nil", err)
	}

	var m map[string]interface{}
	if err := stdjson.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	for _, key := range []string{"slice", "byName", "ptr", "tags", "Hidden", "-"} {
		if _, ok := m[key]; ok {
			t.Errorf("TestMarshalOmitEmptyAndSkip: output contained %q, want it omitted", key)
		}
	}
	if bytes.Contains(b, []byte("secret")) {
		t.Errorf("TestMarshalOmitEmptyAndSkip: a json:\"-\" field was written")
	}
}

func TestEmbeddedStructIsInlined(t *testing.T) {
	in := []byte(`{"id":"base","extra":"e","other":"leftover"}`)

	got := Embedded{}
	if err := Unmarshal(in, &got); err != nil {
		t.Fatalf("TestEmbeddedStructIsInlined: Unmarshal: %s", err)
	}

	want := Embedded{
		Base:  Base{ID: "base"},
		Extra: "e",
		AdditionalFields: map[string]interface{}{
			"other": stdjson.RawMessage(`"leftover"`),
		},
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestEmbeddedStructIsInlined: -want/+got:\n%s", diff)
	}

	out, err := Marshal(got)
	if err != nil {
		t.Fatalf("TestEmbeddedStructIsInlined: Marshal: %s", err)
	}
	var m map[string]interface{}
	if err := stdjson.Unmarshal(out, &m); err != nil {
		panic(err)
	}
	if _, ok := m["id"]; !ok {
		t.Errorf("TestEmbeddedStructIsInlined: embedded field was not inlined, output was: %s", out)
	}
	if _, ok := m["Base"]; ok {
		t.Errorf("TestEmbeddedStructIsInlined: embedded struct was written as a nested object")
	}
}

func TestCustomMarshalerWins(t *testing.T) {
	b, err := Marshal(hasCustom{Field: custom{v: "x"}})
	if err != nil {
		t.Fatalf("TestCustomMarshalerWins: Marshal: %s", err)
	}
	want := `{"field":"custom:x"}`
	if string(b) != want {
		t.Errorf("TestCustomMarshalerWins: got %s, want %s", b, want)
	}

	got := hasCustom{}
	if err := Unmarshal(b, &got); err != nil {
		t.Fatalf("TestCustomMarshalerWins: Unmarshal: %s", err)
	}
	if got.Field.v != "x" {
		t.Errorf("TestCustomMarshalerWins: got %q, want %q", got.Field.v, "x")
	}
}

func TestMarshalNonStruct(t *testing.T) {
	// Non-struct values fall through to the standard library.
	b, err := Marshal(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("TestMarshalNonStruct: got err == %s, want err == nil", err)
	}
	if string(b) != `{"k":"v"}` {
		t.Errorf("TestMarshalNonStruct: got %s, want %s", b, `{"k":"v"}`)
	}

	var p *Plain
	b, err = Marshal(p)
	if err != nil {
		t.Fatalf("TestMarshalNonStruct(nil pointer): got err == %s, want err == nil", err)
	}
	if string(b) != "null" {
		t.Errorf("TestMarshalNonStruct(nil pointer): got %s, want null", b)
	}
}

func TestMarshalRaw(t *testing.T) {
	if got := MarshalRaw("s"); string(got) != `"s"` {
		t.Errorf("TestMarshalRaw: got %s, want %s", got, `"s"`)
	}
	if got := MarshalRaw(map[string]int{"n": 1}); string(got) != `{"n":1}` {
		t.Errorf("TestMarshalRaw: got %s, want %s", got, `{"n":1}`)
	}
}
