package discord

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

// Discord API limits.
const (
	maxEmbedDescription = 4096
	maxEmbedsPerMessage = 10
	maxEmbedTotalChars  = 6000
)

// replyEmbeds renders text as one or more embeds whose descriptions fit the
// Discord limit. Only the first embed carries the title.
func replyEmbeds(title, text string) []*discordgo.MessageEmbed {
	chunks := splitMessage(text, maxEmbedDescription)
	embeds := make([]*discordgo.MessageEmbed, 0, len(chunks))
	for i, c := range chunks {
		e := &discordgo.MessageEmbed{Description: c, Color: colorReply}
		if i == 0 {
			e.Title = title
		}
		if len(chunks) > 1 {
			e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Part %d/%d", i+1, len(chunks))}
		}
		embeds = append(embeds, e)
	}
	return embeds
}

// batchEmbeds groups embeds into messages that respect the per-message
// embed count and the combined character limit.
func batchEmbeds(embeds []*discordgo.MessageEmbed) [][]*discordgo.MessageEmbed {
	var (
		out   [][]*discordgo.MessageEmbed
		cur   []*discordgo.MessageEmbed
		chars int
	)
	for _, e := range embeds {
		n := embedChars(e)
		if len(cur) > 0 && (len(cur) == maxEmbedsPerMessage || chars+n > maxEmbedTotalChars) {
			out = append(out, cur)
			cur, chars = nil, 0
		}
		cur = append(cur, e)
		chars += n
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func embedChars(e *discordgo.MessageEmbed) int {
	n := utf8.RuneCountInString(e.Title) + utf8.RuneCountInString(e.Description)
	if e.Footer != nil {
		n += utf8.RuneCountInString(e.Footer.Text)
	}
	for _, f := range e.Fields {
		n += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	return n
}

// splitMessage cuts text into chunks of at most limit runes, preferring a
// newline, then a space, as the cut point. Chunks are never empty.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{"(empty response)"}
	}
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		window := string(runes[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func errorEmbed(err error) *discordgo.MessageEmbed {
	title := "Something went wrong"
	switch domain.KindOf(err) {
	case domain.KindRateLimited, domain.KindUpstreamRateLimited:
		title = "Slow down"
	case domain.KindValidation:
		title = "Invalid request"
	case domain.KindAuth:
		title = "Configuration error"
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: domain.UserMessage(err),
		Color:       colorError,
	}
}

func statsEmbed(st usecase.ServiceStats) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{
			Name: "Cache",
			Value: fmt.Sprintf("%d/%d entries\n%.0f%% hit rate (%d hits, %d misses)",
				st.Cache.Size, st.Cache.Capacity, st.Cache.HitRate*100, st.Cache.Hits, st.Cache.Misses),
			Inline: true,
		},
		{
			Name: "Connection pool",
			Value: fmt.Sprintf("%d/%d active\n%d waiting\n%d acquired",
				st.Pool.Active, st.Pool.Capacity, st.Pool.Waiting, st.Pool.TotalAcquired),
			Inline: true,
		},
	}

	names := make([]string, 0, len(st.Breakers))
	for name := range st.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := st.Breakers[name]
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Breaker: " + name,
			Value: fmt.Sprintf("%s (%d/%d failures)\n%d requests, %d short-circuited",
				b.State, b.FailureCount, b.FailureThreshold, b.TotalRequests, b.ShortCircuited),
			Inline: true,
		})
	}
	return &discordgo.MessageEmbed{
		Title:     "Bot status",
		Color:     colorStats,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Provider: " + st.Provider},
		Timestamp: st.Timestamp.Format(time.RFC3339),
	}
}
