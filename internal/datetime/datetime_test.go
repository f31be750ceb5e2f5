package datetime

import (
	"errors"
	"testing"
	"time"
)

func wita() *time.Location { return time.FixedZone("WITA", 8*60*60) }

func TestParse(t *testing.T) {
	t.Parallel()

	loc := wita()
	cases := []struct {
		name    string
		tm, dt  string
		want    time.Time
		wantErr error
	}{
		{name: "basic", tm: "17:00", dt: "25/12/2030", want: time.Date(2030, 12, 25, 17, 0, 0, 0, loc)},
		{name: "single digits", tm: "7:5", dt: "1/2/2031", want: time.Date(2031, 2, 1, 7, 5, 0, 0, loc)},
		{name: "noise stripped", tm: "<17:00>", dt: " 25/12/2030.", want: time.Date(2030, 12, 25, 17, 0, 0, 0, loc)},
		{name: "leap day", tm: "00:00", dt: "29/02/2032", want: time.Date(2032, 2, 29, 0, 0, 0, 0, loc)},
		{name: "dot separator", tm: "17.00", dt: "25/12/2030", wantErr: ErrFormat},
		{name: "dashed date", tm: "17:00", dt: "25-12-2030", wantErr: ErrFormat},
		{name: "short year", tm: "17:00", dt: "25/12/30", wantErr: ErrFormat},
		{name: "hour 24", tm: "24:00", dt: "25/12/2030", wantErr: ErrRange},
		{name: "minute 60", tm: "10:60", dt: "25/12/2030", wantErr: ErrRange},
		{name: "month 13", tm: "10:00", dt: "01/13/2030", wantErr: ErrRange},
		{name: "day 0", tm: "10:00", dt: "00/12/2030", wantErr: ErrRange},
		{name: "day 32", tm: "10:00", dt: "32/01/2030", wantErr: ErrRange},
		{name: "year 1969", tm: "10:00", dt: "01/01/1969", wantErr: ErrRange},
		{name: "year 3001", tm: "10:00", dt: "01/01/3001", wantErr: ErrRange},
		{name: "feb 31", tm: "10:00", dt: "31/02/2030", wantErr: ErrNonexistentDate},
		{name: "feb 29 non leap", tm: "10:00", dt: "29/02/2031", wantErr: ErrNonexistentDate},
		{name: "april 31", tm: "10:00", dt: "31/04/2030", wantErr: ErrNonexistentDate},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.tm, tc.dt, loc)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	loc := wita()
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 400; i++ {
		want := start.Add(time.Duration(i) * 23 * time.Hour).Add(time.Duration(i%60) * time.Minute)
		got, err := ParseInput(Short(want, loc), loc)
		if err != nil {
			t.Fatalf("ParseInput(%q): %v", Short(want, loc), err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip %q: got %v want %v", Short(want, loc), got, want)
		}
	}
}

func TestSplitInput(t *testing.T) {
	t.Parallel()

	if tm, dt, err := SplitInput("  17:00   25/12/2030 "); err != nil || tm != "17:00" || dt != "25/12/2030" {
		t.Fatalf("SplitInput: %q %q %v", tm, dt, err)
	}
	for _, in := range []string{"", "17:00", "17:00 25/12/2030 extra"} {
		if _, _, err := SplitInput(in); !errors.Is(err, ErrFormat) {
			t.Fatalf("SplitInput(%q) err=%v", in, err)
		}
	}
}

func TestCheckLead(t *testing.T) {
	t.Parallel()

	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		fail bool
	}{
		{now.Add(-time.Minute), true},
		{now, true},
		{now.Add(DefaultMinLead), true},
		{now.Add(DefaultMinLead + time.Second), false},
		{now.Add(time.Hour), false},
	}
	for _, tc := range cases {
		err := CheckLead(tc.at, now, DefaultMinLead)
		if tc.fail != errors.Is(err, ErrTooSoon) {
			t.Fatalf("CheckLead(%v) err=%v", tc.at, err)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	ts := time.Date(2030, 12, 25, 9, 0, 0, 0, time.UTC)
	if got := Format(ts, wita()); got != "Rabu, 25 Desember 2030 17.00 WITA" {
		t.Fatalf("Format=%q", got)
	}
}
