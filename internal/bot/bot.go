// Package bot runs the Discord side of the tracker: a /resources slash
// command serving cached land states, and channel announcements for
// resources about to become available.
package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/landwatch/landwatch/internal/landstate"
	"github.com/landwatch/landwatch/internal/store"
)

const commandName = "resources"

const snapshotReadTimeout = 5 * time.Second

// Config configures the bot.
type Config struct {
	Token               string
	GuildID             string
	TreesChannelID      string
	IndustriesChannelID string
	Store               store.Store
}

// Bot is a connected Discord client bound to one guild.
type Bot struct {
	cfg     Config
	session *discordgo.Session
	command *discordgo.ApplicationCommand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the bot without connecting.
func New(cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		cfg:     cfg,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start connects the gateway, registers the guild command, and begins
// tracking land updates.
func (b *Bot) Start() error {
	b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("bot: open gateway: %w", err)
	}
	log.Printf("[bot] logged in as %s", b.session.State.User.Username)

	cmd, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, b.cfg.GuildID, &discordgo.ApplicationCommand{
		Name:        commandName,
		Description: "Show the tracked resources of a land",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "land_number",
				Description: "Land number to look up",
				Required:    true,
			},
		},
	})
	if err != nil {
		b.session.Close()
		return fmt.Errorf("bot: register command: %w", err)
	}
	b.command = cmd

	sub, err := b.cfg.Store.Subscribe(b.ctx)
	if err != nil {
		b.session.Close()
		return fmt.Errorf("bot: subscribe: %w", err)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.trackUpdates(sub)
	}()
	log.Printf("[bot] tracking land updates")
	return nil
}

// Stop unsubscribes, removes the guild command, and closes the gateway.
func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()

	if b.command != nil {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, b.command.ID); err != nil {
			log.Printf("[bot] delete command: %v", err)
		}
	}
	if err := b.session.Close(); err != nil {
		log.Printf("[bot] close session: %v", err)
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != commandName || len(data.Options) == 0 {
		return
	}
	land := int(data.Options[0].IntValue())

	ctx, cancel := context.WithTimeout(b.ctx, snapshotReadTimeout)
	defer cancel()

	content := b.landResourcesMessage(ctx, land)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		log.Printf("[bot] respond to /%s land %d: %v", commandName, land, err)
	}
}

func (b *Bot) landResourcesMessage(ctx context.Context, land int) string {
	snap, err := b.cfg.Store.Get(ctx, land)
	if err != nil {
		log.Printf("[bot] read land %d: %v", land, err)
		return "**Could not read the requested land**"
	}
	if snap == nil {
		return "**There is no data for the requested land**"
	}

	parsed, err := landstate.Parse(snap.State)
	if err != nil {
		log.Printf("[bot] parse land %d: %v", land, err)
		return "**Could not read the requested land**"
	}

	msgs := FormatResources(parsed)
	return fmt.Sprintf(
		"> Created => **%s**\n> Expires => **%s**\n\n%s\n%s",
		snap.CreatedAt.Format(landstate.TimeLayout),
		snap.ExpiresAt.Format(landstate.TimeLayout),
		msgs.Trees, msgs.Industries,
	)
}

// trackUpdates posts announcement lines for resources entering the
// availability window. Blocked lands are skipped entirely.
func (b *Bot) trackUpdates(sub <-chan *landstate.UpdateEvent) {
	for ev := range sub {
		parsed, err := landstate.Parse(ev.State)
		if err != nil {
			log.Printf("[bot] parse update for land %d: %v", ev.LandNumber, err)
			continue
		}
		if parsed.IsBlocked {
			continue
		}

		filtered := FilterResources(parsed, time.Now(), WindowLowerBound, WindowUpperBound)
		msgs := FormatResources(filtered)

		if msgs.Trees != "" {
			if _, err := b.session.ChannelMessageSend(b.cfg.TreesChannelID, msgs.Trees); err != nil {
				log.Printf("[bot] post trees for land %d: %v", ev.LandNumber, err)
			}
		}
		if msgs.Industries != "" {
			if _, err := b.session.ChannelMessageSend(b.cfg.IndustriesChannelID, msgs.Industries); err != nil {
				log.Printf("[bot] post industries for land %d: %v", ev.LandNumber, err)
			}
		}
	}
}
