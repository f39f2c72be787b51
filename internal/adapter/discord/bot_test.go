package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/ai"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

type fakeSession struct {
	mu        sync.Mutex
	opened    bool
	closed    bool
	handlers  int
	commands  []*discordgo.ApplicationCommand
	responds  []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	followups []*discordgo.WebhookParams
	openErr   error
}

func (f *fakeSession) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	return f.openErr
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) AddHandler(interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers--
	}
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(_, _ string, commands []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = commands
	return commands, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responds = append(f.responds, resp)
	return nil
}

func (f *fakeSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, nil
}

type fakeGenerator struct {
	text string
	err  error

	lastReq      domain.ChatRequest
	lastCaller   string
	lastPrompt   string
	lastLanguage string
}

func (g *fakeGenerator) GenerateResponse(_ context.Context, req domain.ChatRequest) (string, error) {
	g.lastReq = req
	return g.text, g.err
}

func (g *fakeGenerator) GenerateCodeResponse(_ context.Context, callerID, prompt, language string) (string, error) {
	g.lastCaller, g.lastPrompt, g.lastLanguage = callerID, prompt, language
	return g.text, g.err
}

func (g *fakeGenerator) GenerateExplanation(_ context.Context, callerID, topic string) (string, error) {
	g.lastCaller, g.lastPrompt = callerID, topic
	return g.text, g.err
}

func (g *fakeGenerator) GenerateReview(_ context.Context, callerID, code, language string) (string, error) {
	g.lastCaller, g.lastPrompt, g.lastLanguage = callerID, code, language
	return g.text, g.err
}

func (g *fakeGenerator) ChatSystemMessage() string { return "be nice" }

func (g *fakeGenerator) Stats() usecase.ServiceStats {
	return usecase.ServiceStats{
		Provider: "openai",
		Cache:    ai.CacheStats{Size: 3, Capacity: 1000, Hits: 6, Misses: 2, HitRate: 0.75},
		Pool:     ai.PoolStats{Capacity: 10, Active: 1},
		Breakers: map[string]ai.BreakerStats{
			"openai": {Name: "openai", State: "closed", FailureThreshold: 5, TotalRequests: 8},
		},
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func commandInteraction(name string, opts map[string]string) *discordgo.InteractionCreate {
	var options []*discordgo.ApplicationCommandInteractionDataOption
	for k, v := range opts {
		options = append(options, &discordgo.ApplicationCommandInteractionDataOption{
			Name:  k,
			Type:  discordgo.ApplicationCommandOptionString,
			Value: v,
		})
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:     "interaction-1",
			Type:   discordgo.InteractionApplicationCommand,
			Member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
			Data: discordgo.ApplicationCommandInteractionData{
				CommandType: discordgo.ChatApplicationCommand,
				Name:        name,
				Options:     options,
			},
		},
	}
}

func TestBot_StartStop(t *testing.T) {
	sess := &fakeSession{}
	b := New(sess, &fakeGenerator{}, "app", "guild")

	require.NoError(t, b.Start())
	assert.True(t, sess.opened)
	assert.Equal(t, 1, sess.handlers)
	assert.Len(t, sess.commands, 5)

	require.NoError(t, b.Stop())
	assert.True(t, sess.closed)
	assert.Equal(t, 0, sess.handlers)
}

func TestBot_StartOpenError(t *testing.T) {
	sess := &fakeSession{openErr: errors.New("gateway down")}
	err := New(sess, &fakeGenerator{}, "app", "").Start()
	assert.ErrorContains(t, err, "gateway down")
	assert.Nil(t, sess.commands)
}

func TestCommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range Commands() {
		names = append(names, c.Name)
		assert.NotEmpty(t, c.Description)
	}
	assert.Equal(t, []string{CommandChat, CommandCode, CommandExplain, CommandReview, CommandStats}, names)
}

func TestBot_Handle(t *testing.T) {
	tests := []struct {
		name         string
		command      string
		opts         map[string]string
		wantTitle    string
		wantPrompt   string
		wantLanguage string
	}{
		{name: "code", command: CommandCode, opts: map[string]string{"prompt": "sort ints", "language": "Go"}, wantTitle: "Code", wantPrompt: "sort ints", wantLanguage: "Go"},
		{name: "explain", command: CommandExplain, opts: map[string]string{"topic": " goroutines "}, wantTitle: "Explanation", wantPrompt: "goroutines"},
		{name: "review", command: CommandReview, opts: map[string]string{"code": "x := 1"}, wantTitle: "Code Review", wantPrompt: "x := 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			gen := &fakeGenerator{text: "answer"}
			b := New(sess, gen, "app", "")

			b.handle(context.Background(), commandInteraction(tt.command, tt.opts))

			require.Len(t, sess.responds, 1)
			assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, sess.responds[0].Type)
			require.Len(t, sess.edits, 1)
			embeds := *sess.edits[0].Embeds
			require.Len(t, embeds, 1)
			assert.Equal(t, tt.wantTitle, embeds[0].Title)
			assert.Equal(t, "answer", embeds[0].Description)
			assert.Equal(t, "user-1", gen.lastCaller)
			assert.Equal(t, tt.wantPrompt, gen.lastPrompt)
			assert.Equal(t, tt.wantLanguage, gen.lastLanguage)
		})
	}
}

func TestBot_HandleChatUsesPersona(t *testing.T) {
	sess := &fakeSession{}
	gen := &fakeGenerator{text: "hi"}
	b := New(sess, gen, "app", "")

	i := commandInteraction(CommandChat, map[string]string{"prompt": "hello"})
	i.Member = nil
	i.User = &discordgo.User{ID: "dm-user"}
	b.handle(context.Background(), i)

	assert.Equal(t, domain.ChatRequest{CallerID: "dm-user", Prompt: "hello", SystemMessage: "be nice"}, gen.lastReq)
	require.Len(t, sess.edits, 1)
}

func TestBot_HandleError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantTitle string
		wantText  string
	}{
		{
			name:      "rate_limited",
			err:       &domain.AIError{Kind: domain.KindRateLimited, Op: "chat.limit.user"},
			wantTitle: "Slow down",
			wantText:  "try again shortly",
		},
		{
			name:      "auth",
			err:       &domain.AIError{Kind: domain.KindAuth, Op: "chat.complete", Status: 401},
			wantTitle: "Configuration error",
			wantText:  "misconfigured",
		},
		{
			name:      "server",
			err:       &domain.AIError{Kind: domain.KindServer, Op: "chat.complete", Status: 502},
			wantTitle: "Something went wrong",
			wantText:  "Sorry",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			b := New(sess, &fakeGenerator{err: tt.err}, "app", "")
			b.handle(context.Background(), commandInteraction(CommandChat, map[string]string{"prompt": "x"}))

			require.Len(t, sess.edits, 1)
			embeds := *sess.edits[0].Embeds
			require.Len(t, embeds, 1)
			assert.Equal(t, tt.wantTitle, embeds[0].Title)
			assert.Contains(t, embeds[0].Description, tt.wantText)
			assert.NotContains(t, embeds[0].Description, "status", "upstream detail stays in logs")
			assert.Equal(t, colorError, embeds[0].Color)
		})
	}
}

func TestBot_HandleLongReplyUsesFollowups(t *testing.T) {
	sess := &fakeSession{}
	long := strings.Repeat(strings.Repeat("word ", 99)+"word\n", 60) // ~30k chars
	b := New(sess, &fakeGenerator{text: long}, "app", "")

	b.handle(context.Background(), commandInteraction(CommandChat, map[string]string{"prompt": "x"}))

	require.Len(t, sess.edits, 1)
	total := len(*sess.edits[0].Embeds)
	for _, f := range sess.followups {
		total += len(f.Embeds)
		chars := 0
		for _, e := range f.Embeds {
			chars += embedChars(e)
		}
		assert.LessOrEqual(t, chars, maxEmbedTotalChars)
	}
	assert.NotEmpty(t, sess.followups)
	assert.Equal(t, len(splitMessage(long, maxEmbedDescription)), total)
}

func TestBot_HandleStats(t *testing.T) {
	sess := &fakeSession{}
	b := New(sess, &fakeGenerator{}, "app", "")
	b.handle(context.Background(), commandInteraction(CommandStats, nil))

	require.Len(t, sess.edits, 1)
	e := (*sess.edits[0].Embeds)[0]
	assert.Equal(t, "Bot status", e.Title)
	require.Len(t, e.Fields, 3)
	assert.Contains(t, e.Fields[0].Value, "75% hit rate")
	assert.Equal(t, "Breaker: openai", e.Fields[2].Name)
	assert.Contains(t, e.Fields[2].Value, "closed")
	assert.Equal(t, "2024-01-01T00:00:00Z", e.Timestamp)
}

func TestBot_IgnoresNonCommandInteractions(t *testing.T) {
	sess := &fakeSession{}
	b := New(sess, &fakeGenerator{}, "app", "")
	i := commandInteraction(CommandChat, nil)
	i.Type = discordgo.InteractionMessageComponent
	b.handle(context.Background(), i)
	assert.Empty(t, sess.responds)
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{name: "short", text: "hello", limit: 10, want: []string{"hello"}},
		{name: "empty", text: "  ", limit: 10, want: []string{"(empty response)"}},
		{name: "newline_preferred", text: "aaaa bb\ncccc", limit: 9, want: []string{"aaaa bb", "cccc"}},
		{name: "space_fallback", text: "aaaa bbbb cccc", limit: 10, want: []string{"aaaa bbbb", "cccc"}},
		{name: "hard_cut", text: "abcdefghij", limit: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "multibyte", text: "ééééé", limit: 2, want: []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			for _, c := range got {
				assert.LessOrEqual(t, utf8.RuneCountInString(c), tt.limit)
			}
		})
	}
}

func TestBatchEmbeds(t *testing.T) {
	var embeds []*discordgo.MessageEmbed
	for i := 0; i < 12; i++ {
		embeds = append(embeds, &discordgo.MessageEmbed{Description: "x"})
	}
	batches := batchEmbeds(embeds)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], maxEmbedsPerMessage)
	assert.Len(t, batches[1], 2)

	big := []*discordgo.MessageEmbed{
		{Description: strings.Repeat("a", 4000)},
		{Description: strings.Repeat("b", 4000)},
	}
	assert.Len(t, batchEmbeds(big), 2)
	assert.Nil(t, batchEmbeds(nil))
}
