package i18n

import "testing"

func TestTranslate(t *testing.T) {
	cases := []struct {
		lang, key string
		args      []any
		want      string
	}{
		{"en", LightOffDesc, []any{"23:30"}, "Outage starts at 23:30"},
		{"en-GB", Emergency, nil, "EMERGENCY"},
		{"uk", Emergency, nil, "АВАРІЙНЕ ВІДКЛЮЧЕННЯ"},
		{"", ScheduleFor, []any{"2025-01-10"}, "Опубліковано графік на 2025-01-10"},
		{"de", NewSchedule, nil, "Новий графік"},
	}
	for _, tc := range cases {
		t.Run(tc.lang+"/"+tc.key, func(t *testing.T) {
			if got := New(tc.lang).T(tc.key, tc.args...); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestZeroTranslator(t *testing.T) {
	var tr Translator
	if got := tr.T(NoData); got != "Немає даних" {
		t.Fatalf("got %q", got)
	}
}
