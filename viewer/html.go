package viewer

import (
	"html/template"
	"io"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	// payloads are data urls produced by the image cache, so they are trusted
	"imageSrc": func(card Card) template.URL { return template.URL(card.Image.String()) },
}).Parse(`<!doctype html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>feedview</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 0 auto; padding: 1rem; }
.cards { display: grid; grid-template-columns: repeat(auto-fill, minmax(260px, 1fr)); gap: 1rem; }
.list .card { display: flex; gap: 1rem; }
.card { border: 1px solid #ddd; border-radius: 6px; padding: .75rem; text-decoration: none; color: inherit; }
.card img { max-width: 100%; }
.list .card img { max-width: 160px; }
.tag { color: #fff; border-radius: 3px; padding: 0 .3rem; margin-right: .25rem; font-size: .8rem; }
.ad { background: #000; color: #fff; padding: 0 .3rem; font-size: .8rem; }
.filters span { margin-right: .5rem; }
.filters .active { font-weight: bold; }
</style>
</head>
<body>
<nav class="filters">{{range .Channels}}<span{{if eq . $.Active}} class="active"{{end}}>{{.}}</span>{{end}}</nav>
<main class="{{.Layout}}">
{{- range .Cards}}
<a class="card" href="{{.Item.Link}}" target="_blank" rel="noopener">
{{- if .Image}}<img src="{{imageSrc .}}" alt="">{{end}}
{{- if .Personal}}<span class="ad">AD</span>{{end}}
<div>{{range .Tags}}<span class="tag" style="background-color: {{.Color}}">{{.Name}}</span>{{end}}</div>
<h2>{{.Item.Title}}</h2>
<p>por <b>{{.Item.ChannelTitle}}</b></p>
<p>{{.Date}}</p>
{{- if $.ShowButtons}}<p><small>{{.URL}}</small></p>{{end}}
</a>
{{- end}}
</main>
<footer>{{.Page.Number}} / {{.Page.Total}}</footer>
</body>
</html>
`))

type pageData struct {
	Channels    []string
	Active      string
	Layout      Layout
	ShowButtons bool
	Cards       []Card
	Page        Page
}

// WriteHTML writes a self-contained page with thumbnails inlined as data urls
func WriteHTML(w io.Writer, cards []Card, page Page, channels []string, active string, opts Options) error {
	if active == "" {
		active = AllChannels
	}
	return pageTemplate.Execute(w, pageData{
		Channels:    channels,
		Active:      active,
		Layout:      opts.layout(),
		ShowButtons: opts.ShowButtons,
		Cards:       cards,
		Page:        page,
	})
}
