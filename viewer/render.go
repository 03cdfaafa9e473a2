package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedview/imagecache"
	"feedview/models"
)

// ImageResolver turns an image reference into displayable data
type ImageResolver interface {
	Resolve(ctx context.Context, ref imagecache.Reference) (imagecache.Payload, error)
}

// Tag is a category label with its color
type Tag struct {
	Name  string
	Color string
}

// Card is one rendered item. Image is empty when the item has no thumbnail
// or it could not be resolved.
type Card struct {
	Item     models.FeedItem
	Image    imagecache.Payload
	Tags     []Tag
	Date     string
	Personal bool
	URL      string
}

// Renderer resolves thumbnails and writes cards
type Renderer struct {
	resolver    ImageResolver
	concurrency int
	location    *time.Location
	cardBase    func(models.FeedItem) string
}

// RendererConfig configures a Renderer
type RendererConfig struct {
	// Concurrency bounds simultaneous image resolutions, zero means one per item
	Concurrency int
	Location    *time.Location
	// CardURL builds the shareable url of an item
	CardURL func(models.FeedItem) string
}

func NewRenderer(resolver ImageResolver, config RendererConfig) *Renderer {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.CardURL == nil {
		config.CardURL = func(item models.FeedItem) string { return item.Link }
	}
	return &Renderer{
		resolver:    resolver,
		concurrency: config.Concurrency,
		location:    config.Location,
		cardBase:    config.CardURL,
	}
}

// Cards builds a card per item. Thumbnails are resolved concurrently and a
// failed resolution only leaves that card without an image.
func (r *Renderer) Cards(ctx context.Context, items []models.FeedItem) []Card {
	cards := make([]Card, len(items))
	for i, item := range items {
		cards[i] = r.card(item)
	}
	if r.resolver == nil {
		return cards
	}

	limit := r.concurrency
	if limit <= 0 {
		limit = max(len(items), 1)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i := range cards {
		if !cards[i].Item.HasImage() {
			continue
		}
		wg.Add(1)
		go func(card *Card) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			payload, err := r.resolver.Resolve(ctx, imagecache.Reference{URL: card.Item.ImageUrl})
			if err != nil {
				fields := log.Fields{"item": card.Item.Id, "url": card.Item.ImageUrl, "error": err}
				if errors.Is(err, imagecache.ErrImageUnavailable) {
					log.WithFields(fields).Debug("Thumbnail unavailable")
				} else {
					log.WithFields(fields).Warn("Error resolving thumbnail")
				}
				return
			}
			card.Image = payload
		}(&cards[i])
	}
	wg.Wait()

	return cards
}

func (r *Renderer) card(item models.FeedItem) Card {
	tags := make([]Tag, len(item.Categories))
	for i, category := range item.Categories {
		tags[i] = Tag{Name: category, Color: CategoryColor(i)}
	}
	return Card{
		Item:     item,
		Tags:     tags,
		Date:     FormatDate(item.PubDate, r.location),
		Personal: item.IsPersonalFeed,
		URL:      r.cardBase(item),
	}
}

// WriteText writes a page of cards for a terminal
func WriteText(w io.Writer, cards []Card, page Page, channels []string, active string, opts Options) error {
	var b strings.Builder

	for _, channel := range channels {
		if channel == active || (active == "" && channel == AllChannels) {
			fmt.Fprintf(&b, "[%s] ", channel)
		} else {
			fmt.Fprintf(&b, " %s  ", channel)
		}
	}
	b.WriteString("\n\n")

	for i, card := range cards {
		marker := ""
		if card.Personal {
			marker = "AD "
		}
		switch opts.Layout {
		case LayoutList:
			fmt.Fprintf(&b, "%s%s | %s | %s\n", marker, card.Date, card.Item.ChannelTitle, card.Item.Title)
		default:
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s%s\n", marker, card.Item.Title)
			fmt.Fprintf(&b, "  por %s - %s\n", card.Item.ChannelTitle, card.Date)
			if len(card.Tags) > 0 {
				names := make([]string, len(card.Tags))
				for j, tag := range card.Tags {
					names[j] = tag.Name
				}
				fmt.Fprintf(&b, "  %s\n", strings.Join(names, ", "))
			}
			if card.Image != "" {
				fmt.Fprintf(&b, "  image: %s\n", card.Image.ContentType())
			}
			fmt.Fprintf(&b, "  %s\n", card.URL)
			if opts.ShowButtons {
				fmt.Fprintf(&b, "  export: feedview export %s\n", card.Item.Id)
			}
		}
	}

	fmt.Fprintf(&b, "\npage %d/%d\n", page.Number, page.Total)
	_, err := io.WriteString(w, b.String())
	return err
}
