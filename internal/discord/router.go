package discord

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches application command interactions to registered
// handlers keyed by "command" or "command/subcommand".
type CommandRouter struct {
	mu       sync.RWMutex
	commands map[string]commandEntry
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]commandEntry)}
}

// RegisterCommand registers a handler for key together with the top-level
// command definition sent to Discord.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// RegisterHandler registers a subcommand handler whose parent definition is
// registered separately.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{handler: handler}
}

// ApplicationCommands returns the deduplicated top-level definitions sorted
// by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	slices.SortFunc(cmds, func(a, b *discordgo.ApplicationCommand) int {
		return strings.Compare(a.Name, b.Name)
	})
	return cmds
}

// Handle dispatches an interaction to the matching handler. Interactions
// other than application commands are ignored.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}

	key := interactionKey(i.ApplicationCommandData())
	r.mu.RLock()
	entry, ok := r.commands[key]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		RespondEphemeral(resp, i, "Unknown command.")
		return
	}
	entry.handler(resp, i)
}

func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

// SubcommandOptions returns the options of the invoked subcommand keyed by
// name.
func SubcommandOptions(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption)
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return out
	}
	for _, opt := range data.Options[0].Options {
		out[opt.Name] = opt
	}
	return out
}

// InteractionUserID extracts the invoking user from guild or DM interactions.
func InteractionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
