package transport

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
)

// DefaultNameTemplate names recordings after the track and the time the
// recording was requested, in milliseconds since the epoch.
const DefaultNameTemplate = "track_{{ .TrackID }}_{{ .Time.UnixMilli }}"

// Namer produces the paths of new recordings from a text/template, with the
// sprig functions available. The template sees .TrackID and .Time.
type Namer struct {
	dir  string
	ext  string
	tmpl *template.Template
}

func NewNamer(dir, nameTemplate, ext string) (*Namer, error) {
	if nameTemplate == "" {
		nameTemplate = DefaultNameTemplate
	}
	tmpl, err := template.New("name").Funcs(sprig.TxtFuncMap()).Parse(nameTemplate)
	if err != nil {
		return nil, fmt.Errorf("could not parse recording name template: %w", err)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Namer{dir: dir, ext: ext, tmpl: tmpl}, nil
}

func (n *Namer) Dir() string {
	return n.dir
}

// Path returns the path of a new recording of the track.
func (n *Namer) Path(trackID int, t time.Time) (string, error) {
	var b bytes.Buffer
	data := struct {
		TrackID int
		Time    time.Time
	}{trackID, t}
	if err := n.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("could not execute recording name template: %w", err)
	}
	name := strings.TrimSpace(b.String())
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("recording name template produced an invalid file name %q", name)
	}
	return filepath.Join(n.dir, name+n.ext), nil
}
