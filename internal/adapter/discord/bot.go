// Package discord exposes the chat service as Discord slash commands.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fairyhunter13/ai-discord-bot/internal/adapter/observability"
	"github.com/fairyhunter13/ai-discord-bot/internal/domain"
	"github.com/fairyhunter13/ai-discord-bot/internal/usecase"
)

// Slash command names.
const (
	CommandChat    = "chat"
	CommandCode    = "code"
	CommandExplain = "explain"
	CommandReview  = "review"
	CommandStats   = "stats"
)

const (
	colorReply = 0x5865F2
	colorError = 0xED4245
	colorStats = 0x57F287

	// replyTimeout bounds one command end to end. Discord keeps a deferred
	// interaction token valid for 15 minutes.
	replyTimeout = 2 * time.Minute
)

// Session is the subset of *discordgo.Session the bot uses.
type Session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Generator is the chat service as seen by the bot.
type Generator interface {
	GenerateResponse(ctx context.Context, req domain.ChatRequest) (string, error)
	GenerateCodeResponse(ctx context.Context, callerID, prompt, language string) (string, error)
	GenerateExplanation(ctx context.Context, callerID, topic string) (string, error)
	GenerateReview(ctx context.Context, callerID, code, language string) (string, error)
	ChatSystemMessage() string
	Stats() usecase.ServiceStats
}

// Bot routes slash command interactions to a Generator.
type Bot struct {
	session Session
	gen     Generator
	appID   string
	guildID string

	removeHandler func()
}

// NewSession builds an unopened bot session for token.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("op=discord.NewSession: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

// New creates a bot. An empty guildID registers global commands.
func New(session Session, gen Generator, appID, guildID string) *Bot {
	return &Bot{session: session, gen: gen, appID: appID, guildID: guildID}
}

// Start registers the interaction handler, connects the gateway and
// publishes the slash commands.
func (b *Bot) Start() error {
	b.removeHandler = b.session.AddHandler(b.onInteraction)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("op=discord.Open: %w", err)
	}
	created, err := b.session.ApplicationCommandBulkOverwrite(b.appID, b.guildID, Commands())
	if err != nil {
		return fmt.Errorf("op=discord.RegisterCommands: %w", err)
	}
	slog.Info("discord commands registered", slog.Int("count", len(created)), slog.String("guild_id", b.guildID))
	return nil
}

// Stop disconnects from the gateway.
func (b *Bot) Stop() error {
	if b.removeHandler != nil {
		b.removeHandler()
	}
	return b.session.Close()
}

// Commands returns the slash command definitions.
func Commands() []*discordgo.ApplicationCommand {
	str := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandChat,
			Description: "Ask the AI assistant anything",
			Options:     []*discordgo.ApplicationCommandOption{str("prompt", "Your message", true)},
		},
		{
			Name:        CommandCode,
			Description: "Generate code",
			Options: []*discordgo.ApplicationCommandOption{
				str("prompt", "What the code should do", true),
				str("language", "Programming language", false),
			},
		},
		{
			Name:        CommandExplain,
			Description: "Get a beginner-friendly explanation",
			Options:     []*discordgo.ApplicationCommandOption{str("topic", "Topic to explain", true)},
		},
		{
			Name:        CommandReview,
			Description: "Review a code snippet",
			Options: []*discordgo.ApplicationCommandOption{
				str("code", "Code to review", true),
				str("language", "Programming language", false),
			},
		},
		{
			Name:        CommandStats,
			Description: "Show cache, pool and circuit breaker status",
		},
	}
}

func (b *Bot) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	b.handle(ctx, i)
}

func (b *Bot) handle(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	userID := interactionUserID(i)
	lg := slog.Default().With(
		slog.String("command", data.Name),
		slog.String("interaction_id", i.ID),
		slog.String("user_id", userID),
	)
	ctx = observability.ContextWithLogger(ctx, lg)

	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		lg.Error("failed to acknowledge interaction", slog.Any("error", err))
		return
	}

	if data.Name == CommandStats {
		b.editEmbeds(lg, i.Interaction, []*discordgo.MessageEmbed{statsEmbed(b.gen.Stats())})
		return
	}

	opts := optionMap(data.Options)
	var (
		title string
		text  string
	)
	switch data.Name {
	case CommandChat:
		title = "Chat"
		text, err = b.gen.GenerateResponse(ctx, domain.ChatRequest{
			CallerID:      userID,
			Prompt:        opts["prompt"],
			SystemMessage: b.gen.ChatSystemMessage(),
		})
	case CommandCode:
		title = "Code"
		text, err = b.gen.GenerateCodeResponse(ctx, userID, opts["prompt"], opts["language"])
	case CommandExplain:
		title = "Explanation"
		text, err = b.gen.GenerateExplanation(ctx, userID, opts["topic"])
	case CommandReview:
		title = "Code Review"
		text, err = b.gen.GenerateReview(ctx, userID, opts["code"], opts["language"])
	default:
		lg.Warn("unknown command")
		return
	}

	if err != nil {
		lg.Warn("command failed", slog.String("kind", domain.KindOf(err).String()), slog.Any("error", err))
		b.editEmbeds(lg, i.Interaction, []*discordgo.MessageEmbed{errorEmbed(err)})
		return
	}
	b.reply(lg, i.Interaction, replyEmbeds(title, text))
}

// reply edits the deferred response with the first batch of embeds and
// posts the rest as follow-ups.
func (b *Bot) reply(lg *slog.Logger, interaction *discordgo.Interaction, embeds []*discordgo.MessageEmbed) {
	batches := batchEmbeds(embeds)
	if len(batches) == 0 {
		return
	}
	b.editEmbeds(lg, interaction, batches[0])
	for _, batch := range batches[1:] {
		if _, err := b.session.FollowupMessageCreate(interaction, true, &discordgo.WebhookParams{Embeds: batch}); err != nil {
			lg.Error("failed to send follow-up", slog.Any("error", err))
			return
		}
	}
}

func (b *Bot) editEmbeds(lg *slog.Logger, interaction *discordgo.Interaction, embeds []*discordgo.MessageEmbed) {
	if _, err := b.session.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		lg.Error("failed to edit interaction response", slog.Any("error", err))
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		if o.Type == discordgo.ApplicationCommandOptionString {
			out[o.Name] = strings.TrimSpace(o.StringValue())
		}
	}
	return out
}
