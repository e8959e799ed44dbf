package relocation

import "testing"

func TestDetectEnglish(t *testing.T) {
	d := NewDetector(0.9)
	cases := []struct {
		text  string
		place string
		tz    string
	}{
		{"hey, I moved to Berlin last week", "Berlin", "Europe/Berlin"},
		{"I've just moved to New York!", "New York", "America/New_York"},
		{"i moved to berlin", "Berlin", "Europe/Berlin"},
		{"I'm now in Tokyo, ping me async", "Tokyo", "Asia/Tokyo"},
		{"relocating to London permanently", "London", "Europe/London"},
		{"flying to Singapore tomorrow", "Singapore", "Asia/Singapore"},
		{"I am based in San Francisco", "San Francisco", "America/Los_Angeles"},
	}
	for _, tc := range cases {
		m, ok := d.Detect(tc.text)
		if !ok {
			t.Errorf("Detect(%q) found nothing", tc.text)
			continue
		}
		if m.Place != tc.place {
			t.Errorf("Detect(%q) place = %q, want %q", tc.text, m.Place, tc.place)
		}
		if m.TZ != tc.tz {
			t.Errorf("Detect(%q) tz = %q, want %q", tc.text, m.TZ, tc.tz)
		}
		if m.Confidence != 0.9 {
			t.Errorf("Detect(%q) confidence = %v, want 0.9", tc.text, m.Confidence)
		}
	}
}

func TestDetectRussian(t *testing.T) {
	d := NewDetector(0.9)
	cases := []struct {
		text string
		tz   string
	}{
		{"я переехал в Москву", "Europe/Moscow"},
		{"переехала в Лондон навсегда", "Europe/London"},
		{"я теперь в Берлине", "Europe/Berlin"},
		{"прилетел в Токио вчера", "Asia/Tokyo"},
	}
	for _, tc := range cases {
		m, ok := d.Detect(tc.text)
		if !ok {
			t.Errorf("Detect(%q) found nothing", tc.text)
			continue
		}
		if m.TZ != tc.tz {
			t.Errorf("Detect(%q) tz = %q, want %q", tc.text, m.TZ, tc.tz)
		}
	}
}

func TestDetectUnknownDestination(t *testing.T) {
	d := NewDetector(0.9)
	m, ok := d.Detect("I moved to Springfield yesterday")
	if !ok {
		t.Fatal("relocation with unknown city not detected")
	}
	if m.TZ != "" {
		t.Errorf("tz = %q, want empty for unknown city", m.TZ)
	}
	if m.Place != "Springfield" {
		t.Errorf("place = %q, want Springfield", m.Place)
	}
}

func TestDetectNoRelocation(t *testing.T) {
	d := NewDetector(0.9)
	for _, text := range []string{
		"",
		"meeting at 3pm tomorrow",
		"the server moved to a new rack",
		"созвон в 10 утра",
	} {
		if m, ok := d.Detect(text); ok {
			t.Errorf("Detect(%q) = %+v, want no match", text, m)
		}
	}
}
