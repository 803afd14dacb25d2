package time

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUnixRoundTrip(t *testing.T) {
	want := time.Unix(1588257622, 0)

	b, err := json.Marshal(Unix{T: want})
	if err != nil {
		t.Fatalf("TestUnixRoundTrip: Marshal: %s", err)
	}
	if string(b) != `"1588257622"` {
		t.Errorf("TestUnixRoundTrip: got %s, want %s", b, `"1588257622"`)
	}

	got := Unix{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnixRoundTrip: Unmarshal: %s", err)
	}
	if !got.T.Equal(want) {
		t.Errorf("TestUnixRoundTrip: got %v, want %v", got.T, want)
	}
}

func TestUnixUnmarshal(t *testing.T) {
	tests := []struct {
		desc string
		b    string
		want time.Time
		err  bool
	}{
		{desc: "quoted epoch", b: `"1588257622"`, want: time.Unix(1588257622, 0)},
		{desc: "bare epoch", b: `1588257622`, want: time.Unix(1588257622, 0)},
		{desc: "null leaves zero value", b: `null`},
		{desc: "empty string leaves zero value", b: `""`},
		{desc: "not a number", b: `"soon"`, err: true},
	}

	for _, test := range tests {
		got := Unix{}
		err := json.Unmarshal([]byte(test.b), &got)
		switch {
		case err == nil && test.err:
			t.Errorf("TestUnixUnmarshal(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestUnixUnmarshal(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if !got.T.Equal(test.want) {
			t.Errorf("TestUnixUnmarshal(%s): got %v, want %v", test.desc, got.T, test.want)
		}
	}
}

func TestUnixMarshalZero(t *testing.T) {
	b, err := json.Marshal(Unix{})
	if err != nil {
		t.Fatalf("TestUnixMarshalZero: got err == %s, want err == nil", err)
	}
	if string(b) != "null" {
		t.Errorf("TestUnixMarshalZero: got %s, want null", b)
	}
}

func TestDurationTimeUnmarshal(t *testing.T) {
	tests := []struct {
		desc string
		b    string
		// want is the exact expected time. relative marks values that are
		// seconds from now, which the test checks with a tolerance instead.
		want     time.Time
		relative time.Duration
		err      bool
	}{
		{desc: "seconds from now", b: `3600`, relative: 3600 * time.Second},
		{desc: "quoted seconds from now", b: `"3600"`, relative: 3600 * time.Second},
		{desc: "10 digit absolute epoch", b: `1588257622`, want: time.Unix(1588257622, 0)},
		{desc: "quoted absolute epoch", b: `"1588257622"`, want: time.Unix(1588257622, 0)},
		{
			desc: "ISO 8601 with offset",
			b:    `"2020-04-30T13:20:22.5-07:00"`,
			want: time.Date(2020, 4, 30, 13, 20, 22, int(500*time.Millisecond), time.FixedZone("", -7*60*60)),
		},
		{
			desc: "US date string",
			b:    `"04/30/2020 13:20:22"`,
			want: time.Date(2020, 4, 30, 13, 20, 22, 0, time.UTC),
		},
		{
			desc: "date string",
			b:    `"2020-04-30 13:20:22"`,
			want: time.Date(2020, 4, 30, 13, 20, 22, 0, time.UTC),
		},
		{desc: "null leaves zero value", b: `null`},
		{desc: "unrecognized format", b: `"tomorrow"`, err: true},
	}

	for _, test := range tests {
		got := DurationTime{}
		err := json.Unmarshal([]byte(test.b), &got)
		switch {
		case err == nil && test.err:
			t.Errorf("TestDurationTimeUnmarshal(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestDurationTimeUnmarshal(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}

		if test.relative != 0 {
			want := time.Now().Add(test.relative)
			if diff := got.T.Sub(want); diff < -5*time.Second || diff > 5*time.Second {
				t.Errorf("TestDurationTimeUnmarshal(%s): got %v, want within 5s of %v", test.desc, got.T, want)
			}
			continue
		}
		if !got.T.Equal(test.want) {
			t.Errorf("TestDurationTimeUnmarshal(%s): got %v, want %v", test.desc, got.T, test.want)
		}
	}
}

func TestDurationTimeMarshal(t *testing.T) {
	b, err := json.Marshal(DurationTime{})
	if err != nil {
		t.Fatalf("TestDurationTimeMarshal: got err == %s, want err == nil", err)
	}
	if string(b) != "null" {
		t.Errorf("TestDurationTimeMarshal: got %s, want null", b)
	}

	b, err = json.Marshal(DurationTime{T: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("TestDurationTimeMarshal: got err == %s, want err == nil", err)
	}
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		t.Fatalf("TestDurationTimeMarshal: output %s was not an integer", b)
	}
	if secs < 3595 || secs > 3600 {
		t.Errorf("TestDurationTimeMarshal: got %d seconds, want about 3600", secs)
	}
}
