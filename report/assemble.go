package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	lodelib "github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/types"
)

// IndexFile is the bundle landing page.
const IndexFile = "index.html"

// NoTargetComment is posted when the trigger text carries no usable target.
const NoTargetComment = "Could not find URL"

// Config configures an Assembler.
type Config struct {
	// Factory opens the report store. Nil skips publishing.
	Factory lodelib.StoreFactory
	// Prefix is the key prefix bundles are published under.
	Prefix string
	// PublicURL is the base URL the store is served from. Bundle links are
	// <PublicURL>/<bundle>/<file>. Empty yields store keys instead.
	PublicURL string
	// IssueURL renders a link to the originating issue (optional).
	IssueURL func(issue int) string
	Logger   *log.Logger
	// Collector counts store writes (optional).
	Collector *metrics.Collector
}

// Assembler turns a workspace and its run set into a published bundle.
type Assembler struct {
	config Config
	logger *log.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg Config) *Assembler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Assembler{config: cfg, logger: logger}
}

// Bundle is a published report bundle.
type Bundle struct {
	// ID is the bundle identifier (lh-issue-runner-<issue>[-<comment>]).
	ID string
	// URL is the public location of the bundle.
	URL string
	// Files lists the published file names.
	Files []string
}

// FileURL returns the public location of one bundle file.
func (b *Bundle) FileURL(name string) string {
	return b.URL + "/" + url.PathEscape(name)
}

// IndexURL returns the public location of the landing page.
func (b *Bundle) IndexURL() string {
	return b.FileURL(IndexFile)
}

// BundleURL returns the public location of a bundle.
func (a *Assembler) BundleURL(id string) string {
	if a.config.PublicURL == "" {
		return path.Join(strings.Trim(a.config.Prefix, "/"), id)
	}
	return strings.TrimRight(a.config.PublicURL, "/") + "/" + url.PathEscape(id)
}

// Assemble writes index.html into dir and publishes every workspace file
// under the event's bundle id. The returned bundle is populated even when
// publishing fails part way.
func (a *Assembler) Assemble(ctx context.Context, dir *Dir, set *types.RunSet, ev types.TriggerEvent) (*Bundle, error) {
	bundle := &Bundle{ID: ev.BundleID(), URL: a.BundleURL(ev.BundleID())}

	files, err := dir.List()
	if err != nil {
		return bundle, err
	}
	index, err := a.renderIndex(set, ev, files)
	if err != nil {
		return bundle, err
	}
	if err := dir.PutFile(ctx, IndexFile, "text/html", index); err != nil {
		return bundle, fmt.Errorf("write index: %w", err)
	}

	files, err = dir.List()
	if err != nil {
		return bundle, err
	}
	for _, f := range files {
		bundle.Files = append(bundle.Files, f.Name)
	}

	if a.config.Factory == nil {
		a.logger.Info("report store not configured, bundle left in workspace", map[string]any{
			"bundle": bundle.ID,
			"dir":    dir.Root(),
		})
		return bundle, nil
	}

	w := lode.NewBundleWriter(a.config.Factory, a.config.Prefix, bundle.ID, a.config.Collector)
	for _, f := range files {
		data, err := dir.ReadFile(f.Name)
		if err != nil {
			return bundle, fmt.Errorf("read %s: %w", f.Name, err)
		}
		if err := w.PutFile(ctx, f.Name, ContentType(f.Name), data); err != nil {
			return bundle, fmt.Errorf("publish %s: %w", f.Name, err)
		}
	}
	a.logger.Info("published report bundle", map[string]any{
		"bundle": bundle.ID,
		"files":  len(files),
		"url":    bundle.URL,
	})
	return bundle, nil
}

// ContentType maps a report file name to its MIME type.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".html":
		return "text/html; charset=utf-8"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>LH #{{.Issue}} {{.Target}}</title>
  </head>
  <body>
    {{if .IssueURL}}<a href="{{.IssueURL}}">#{{.Issue}}</a><br>
    {{end}}<a href="{{.Target}}">{{.Target}}</a><br>
    <ul>
    {{range .Runs}}<li>{{if .Success}}&#x2705;{{else}}&#x274C;{{end}} {{.Type}}</li>
    {{end}}</ul>
    {{range .Files}}<a href="{{.Href}}">{{.Name}}</a> ({{.Size}})<br>
    {{end}}
  </body>
</html>
`))

type indexFile struct {
	Name string
	Href string
	Size string
}

type indexData struct {
	Issue    int
	IssueURL string
	Target   string
	Runs     []types.SummaryRun
	Files    []indexFile
}

func (a *Assembler) renderIndex(set *types.RunSet, ev types.TriggerEvent, files []File) ([]byte, error) {
	data := indexData{
		Issue:  ev.Issue,
		Target: set.Target,
		Runs:   set.Summary().Runs,
	}
	if a.config.IssueURL != nil {
		data.IssueURL = a.config.IssueURL(ev.Issue)
	}
	for _, f := range files {
		data.Files = append(data.Files, indexFile{
			Name: f.Name,
			Href: url.PathEscape(f.Name),
			Size: humanize.Bytes(uint64(f.Size)),
		})
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return buf.Bytes(), nil
}

// Comment renders the notification body for a run set. Artifact links are
// included only for files present in dir.
func Comment(set *types.RunSet, bundle *Bundle, dir *Dir) string {
	if set == nil || set.Target == "" {
		return NoTargetComment
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I ran Lighthouse for %s, here's what I found.\n\n", set.Target)
	fmt.Fprintf(&b, "[index](%s)\n", bundle.IndexURL())

	lines := make([]string, 0, len(set.Results))
	for _, r := range set.Results {
		mark := "❌"
		if r.Success {
			mark = "✅"
		}
		var links []string
		for _, art := range []struct{ text, file string }{
			{"html", r.Type + ".report.html"},
			{"json", r.Type + ".report.json"},
			{"output", runtime.OutputFile(r.Type)},
		} {
			if dir.Exists(art.file) {
				links = append(links, fmt.Sprintf("[%s](%s)", art.text, bundle.FileURL(art.file)))
			}
		}
		// A zero-width space keeps "name@1.2.3" from rendering as a mailto link.
		label := strings.Replace(r.Type, "@", "@&#8203;", 1)
		lines = append(lines, fmt.Sprintf("%s %s %s", mark, strings.Join(links, " "), label))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}
