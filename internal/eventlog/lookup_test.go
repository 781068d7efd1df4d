package eventlog

import (
	"encoding/json"
	"testing"
)

const sampleRecord = `{
	"Event": {
		"System": {
			"Channel": "Application",
			"Computer": "WIN-ABC123.domain.local",
			"EventID": 1000,
			"Provider": {"Name": "Application Error"}
		},
		"EventData": {"Data": ["a", "b"]}
	}
}`

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	tree, err := DecodeRecord([]byte(s))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	return tree
}

func TestLookup(t *testing.T) {
	tree := mustDecode(t, sampleRecord)

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "channel", path: "Event.System.Channel", want: "Application", wantOK: true},
		{name: "computer", path: "Event.System.Computer", want: "WIN-ABC123.domain.local", wantOK: true},
		{name: "nested object leaf", path: "Event.System.Provider.Name", want: "Application Error", wantOK: true},
		{name: "number leaf", path: "Event.System.EventID", want: json.Number("1000"), wantOK: true},
		{name: "missing leaf", path: "Event.System.Missing", wantOK: false},
		{name: "missing intermediate", path: "Event.Nope.Channel", wantOK: false},
		{name: "through a string", path: "Event.System.Channel.Deeper", wantOK: false},
		{name: "through an array", path: "Event.EventData.Data.0", wantOK: false},
		{name: "through a number", path: "Event.System.EventID.x", wantOK: false},
		{name: "empty path", path: "", wantOK: false},
		{name: "trailing dot", path: "Event.System.", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(tree, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Lookup(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLookup_NonObjectRoots(t *testing.T) {
	roots := []any{nil, "string", json.Number("1"), true, []any{"a"}}

	for _, root := range roots {
		if _, ok := Lookup(root, "Event.System.Channel"); ok {
			t.Errorf("Lookup on %#v should report not found", root)
		}
	}
}

func TestLookup_IntermediateObjectReturned(t *testing.T) {
	tree := mustDecode(t, sampleRecord)

	got, ok := Lookup(tree, "Event.System.Provider")
	if !ok {
		t.Fatal("Expected intermediate object")
	}
	if _, isMap := got.(map[string]any); !isMap {
		t.Errorf("Lookup returned %T, want map", got)
	}
}

func TestLookupString(t *testing.T) {
	tree := mustDecode(t, sampleRecord)

	if s, ok := LookupString(tree, "Event.System.Channel"); !ok || s != "Application" {
		t.Errorf("LookupString(channel) = %q, %v", s, ok)
	}
	if _, ok := LookupString(tree, "Event.System.EventID"); ok {
		t.Error("LookupString should reject non-string leaves")
	}
	if got := LookupStringOr(tree, "Event.System.Nope", Unknown); got != Unknown {
		t.Errorf("LookupStringOr default = %q", got)
	}
	if got := LookupStringOr(tree, "Event.System.Computer", Unknown); got != "WIN-ABC123.domain.local" {
		t.Errorf("LookupStringOr = %q", got)
	}
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "object", input: `{"a":1}`},
		{name: "array", input: `[1,2]`},
		{name: "scalar", input: `"x"`},
		{name: "truncated", input: `{"a":`, wantErr: true},
		{name: "garbage", input: `<Event/>`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
		{name: "two documents", input: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeRecord(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
