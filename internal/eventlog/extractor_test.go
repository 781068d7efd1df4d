package eventlog

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	internalerrors "github.com/olegiv/evtx-archiver/internal/errors"
)

// fakeSource replays canned records; an entry with err set fails that record.
type fakeSource struct {
	records []fakeRecord
	pos     int
	closed  bool
}

type fakeRecord struct {
	data string
	err  error
}

func (f *fakeSource) Next() ([]byte, error) {
	if f.pos >= len(f.records) {
		return nil, io.EOF
	}
	r := f.records[f.pos]
	f.pos++
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.data), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func openerFor(src *fakeSource) Opener {
	return func(string) (RecordSource, error) { return src, nil }
}

func TestExtract_FirstRecord(t *testing.T) {
	src := &fakeSource{records: []fakeRecord{
		{data: sampleRecord},
		{data: `{"Event":{"System":{"Channel":"Security","Computer":"OTHER"}}}`},
	}}

	d, err := NewExtractor(openerFor(src), nil).Extract("/logs/a.evtx")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if d.EventLogType != "Application" {
		t.Errorf("EventLogType = %q, want Application", d.EventLogType)
	}
	if d.HostName != "WIN-ABC123.domain.local" {
		t.Errorf("HostName = %q", d.HostName)
	}
	if d.Path != "/logs/a.evtx" {
		t.Errorf("Path = %q", d.Path)
	}
	if d.ShortHost() != "WIN-ABC123" {
		t.Errorf("ShortHost() = %q", d.ShortHost())
	}
	if src.pos != 1 {
		t.Errorf("Extract should stop after the first decodable record, read %d", src.pos)
	}
	if !src.closed {
		t.Error("Source should be closed")
	}
}

func TestExtract_SkipsFailingRecords(t *testing.T) {
	src := &fakeSource{records: []fakeRecord{
		{err: errors.New("bad chunk")},
		{data: `{"Event": `},
		{data: `{"Event":{"System":{"Channel":"System","Computer":"HOST"}}}`},
	}}

	d, err := NewExtractor(openerFor(src), nil).Extract("x.evtx")
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if d.EventLogType != "System" || d.HostName != "HOST" {
		t.Errorf("Descriptor = %+v", d)
	}
}

func TestExtract_IndependentDefaults(t *testing.T) {
	tests := []struct {
		name        string
		record      string
		wantChannel string
		wantHost    string
	}{
		{
			name:        "host missing",
			record:      `{"Event":{"System":{"Channel":"Application"}}}`,
			wantChannel: "Application",
			wantHost:    Unknown,
		},
		{
			name:        "channel missing",
			record:      `{"Event":{"System":{"Computer":"SRV01.corp"}}}`,
			wantChannel: Unknown,
			wantHost:    "SRV01.corp",
		},
		{
			name:        "system not an object",
			record:      `{"Event":{"System":"flat"}}`,
			wantChannel: Unknown,
			wantHost:    Unknown,
		},
		{
			name:        "array record",
			record:      `[1,2,3]`,
			wantChannel: Unknown,
			wantHost:    Unknown,
		},
		{
			name:        "non-string channel",
			record:      `{"Event":{"System":{"Channel":7,"Computer":"H"}}}`,
			wantChannel: Unknown,
			wantHost:    "H",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{records: []fakeRecord{{data: tt.record}}}
			d, err := NewExtractor(openerFor(src), nil).Extract("x.evtx")
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if d.EventLogType != tt.wantChannel {
				t.Errorf("EventLogType = %q, want %q", d.EventLogType, tt.wantChannel)
			}
			if d.HostName != tt.wantHost {
				t.Errorf("HostName = %q, want %q", d.HostName, tt.wantHost)
			}
		})
	}
}

func TestExtract_NoParseableRecord(t *testing.T) {
	tests := []struct {
		name    string
		records []fakeRecord
	}{
		{name: "empty container", records: nil},
		{name: "all records fail", records: []fakeRecord{
			{err: errors.New("bad")},
			{data: "not json"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{records: tt.records}
			d, err := NewExtractor(openerFor(src), nil).Extract("x.evtx")
			if d != nil {
				t.Errorf("Expected no descriptor, got %+v", d)
			}
			if !errors.Is(err, internalerrors.ErrMetadataUnavailable) {
				t.Errorf("Expected ErrMetadataUnavailable, got %v", err)
			}
			if !src.closed {
				t.Error("Source should be closed")
			}
		})
	}
}

func TestExtract_OpenFailure(t *testing.T) {
	openErr := errors.New("invalid header")
	open := func(string) (RecordSource, error) { return nil, openErr }

	d, err := NewExtractor(open, nil).Extract("x.evtx")
	if d != nil {
		t.Errorf("Expected no descriptor, got %+v", d)
	}
	if !errors.Is(err, internalerrors.ErrMetadataUnavailable) {
		t.Errorf("Expected ErrMetadataUnavailable, got %v", err)
	}
	if !errors.Is(err, openErr) {
		t.Errorf("Expected the open error in the chain, got %v", err)
	}
}

func TestExtract_MissingFileWithEVTXParser(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.evtx")

	_, err := NewExtractor(nil, nil).Extract(missing)
	if !errors.Is(err, internalerrors.ErrMetadataUnavailable) {
		t.Errorf("Expected ErrMetadataUnavailable, got %v", err)
	}
}

func TestShortHost(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"WIN-ABC123.domain.local", "WIN-ABC123"},
		{"SRV01", "SRV01"},
		{"", ""},
		{".leading", ""},
		{Unknown, Unknown},
	}

	for _, tt := range tests {
		d := &Descriptor{HostName: tt.host}
		if got := d.ShortHost(); got != tt.want {
			t.Errorf("ShortHost(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}
