package transport_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vsariola/loopstation/transport"
)

func TestDefaultName(t *testing.T) {
	n, err := transport.NewNamer("rec", "", "wav")
	if err != nil {
		t.Fatal(err)
	}
	at := time.UnixMilli(1700000000123)
	got, err := n.Path(3, at)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("rec", "track_3_1700000000123.wav"); got != want {
		t.Fatalf("path %q, want %q", got, want)
	}
}

func TestSprigTemplate(t *testing.T) {
	n, err := transport.NewNamer("rec", `{{ .Time.UTC | date "2006-01-02" }}_{{ printf "%02d" .TrackID }}`, ".wav")
	if err != nil {
		t.Fatal(err)
	}
	got, err := n.Path(4, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join("rec", "2024-05-06_04.wav"); got != want {
		t.Fatalf("path %q, want %q", got, want)
	}
}

func TestInvalidNames(t *testing.T) {
	if _, err := transport.NewNamer("rec", "{{ .Missing", ".wav"); err == nil {
		t.Fatal("unparsable template accepted")
	}
	for _, tmpl := range []string{`{{ "" }}`, `a/{{ .TrackID }}`} {
		n, err := transport.NewNamer("rec", tmpl, ".wav")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := n.Path(1, time.Now()); err == nil {
			t.Fatalf("template %q produced an accepted name", tmpl)
		}
	}
}
