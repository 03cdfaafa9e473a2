package viewer

import (
	"net/url"
	"strings"
)

// Layout is how items are arranged
type Layout string

const (
	LayoutCards Layout = "cards"
	LayoutList  Layout = "list"
)

// Options are the page settings carried in the query string
type Options struct {
	// ShowButtons enables the export buttons, buttons=true
	ShowButtons bool
	Layout      Layout
}

// ParseOptions reads buttons and view. Unknown views fall back to cards.
func ParseOptions(query url.Values) Options {
	opts := Options{
		ShowButtons: query.Get("buttons") == "true",
		Layout:      LayoutCards,
	}
	if Layout(strings.ToLower(query.Get("view"))) == LayoutList {
		opts.Layout = LayoutList
	}
	return opts
}

// Toggle switches between the card and list layouts
func (o Options) Toggle() Options {
	if o.Layout == LayoutList {
		o.Layout = LayoutCards
	} else {
		o.Layout = LayoutList
	}
	return o
}

// Apply writes the options into query, keeping unrelated parameters
func (o Options) Apply(query url.Values) url.Values {
	out := url.Values{}
	for k, v := range query {
		out[k] = append([]string(nil), v...)
	}
	out.Set("view", string(o.layout()))
	if o.ShowButtons {
		out.Set("buttons", "true")
	} else {
		out.Del("buttons")
	}
	return out
}

// Encode returns the options as a query string
func (o Options) Encode() string {
	return o.Apply(nil).Encode()
}

func (o Options) layout() Layout {
	if o.Layout == LayoutList {
		return LayoutList
	}
	return LayoutCards
}
