package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/meetscribe/internal/discord/mock"
)

func TestPermissionChecker_IsAdmin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		admins []string
		member *discordgo.Member
		want   bool
	}{
		{
			name:   "no member",
			admins: []string{"user-1"},
			member: nil,
			want:   false,
		},
		{
			name:   "administrator permission",
			member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}, Permissions: discordgo.PermissionAdministrator},
			want:   true,
		},
		{
			name:   "administrator among other bits",
			member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}, Permissions: discordgo.PermissionAdministrator | discordgo.PermissionSendMessages},
			want:   true,
		},
		{
			name:   "allow listed",
			admins: []string{"user-2", "user-1"},
			member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
			want:   true,
		},
		{
			name:   "regular member",
			admins: []string{"user-2"},
			member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}, Permissions: discordgo.PermissionManageMessages},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pc := NewPermissionChecker(tt.admins)
			i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Member: tt.member}}
			if got := pc.IsAdmin(i); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func command(name, sub string) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{
			{Type: discordgo.ApplicationCommandOptionSubCommand, Name: sub},
		}
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:   discordgo.InteractionApplicationCommand,
			Member: &discordgo.Member{User: &discordgo.User{ID: "user-1"}},
			Data:   data,
		},
	}
}

func TestCommandRouter_ApplicationCommands(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	noop := func(Responder, *discordgo.InteractionCreate) {}

	r.RegisterCommand("voice", &discordgo.ApplicationCommand{Name: "voice"}, noop)
	r.RegisterCommand("record", &discordgo.ApplicationCommand{Name: "record"}, noop)
	r.RegisterHandler("record/start", noop)

	cmds := r.ApplicationCommands()
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(cmds))
	}
	if cmds[0].Name != "record" || cmds[1].Name != "voice" {
		t.Errorf("commands = [%q %q], want sorted [record voice]", cmds[0].Name, cmds[1].Name)
	}
}

func TestCommandRouter_ApplicationCommands_Dedup(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	cmd := &discordgo.ApplicationCommand{Name: "record"}
	noop := func(Responder, *discordgo.InteractionCreate) {}
	r.RegisterCommand("record/start", cmd, noop)
	r.RegisterCommand("record/stop", cmd, noop)

	if cmds := r.ApplicationCommands(); len(cmds) != 1 {
		t.Fatalf("expected 1 deduplicated command, got %d", len(cmds))
	}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var got []string
	r.RegisterCommand("record", &discordgo.ApplicationCommand{Name: "record"}, func(Responder, *discordgo.InteractionCreate) {
		got = append(got, "record")
	})
	r.RegisterHandler("record/start", func(Responder, *discordgo.InteractionCreate) {
		got = append(got, "record/start")
	})

	resp := &mock.InteractionResponder{}
	r.Handle(resp, command("record", "start"))
	r.Handle(resp, command("record", ""))

	if strings.Join(got, ",") != "record/start,record" {
		t.Errorf("dispatched = %v", got)
	}
	if len(resp.Responses) != 0 {
		t.Errorf("router answered %d times, want 0", len(resp.Responses))
	}
}

func TestCommandRouter_HandleUnknown(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, command("nope", ""))

	if got := resp.LastContent(); got != "Unknown command." {
		t.Errorf("LastContent = %q, want %q", got, "Unknown command.")
	}
}

func TestCommandRouter_IgnoresComponents(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}
	r.Handle(resp, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionMessageComponent}})

	if len(resp.Responses) != 0 {
		t.Errorf("expected no response, got %d", len(resp.Responses))
	}
}

func TestSubcommandOptions(t *testing.T) {
	t.Parallel()

	i := command("record", "start")
	i.ApplicationCommandData().Options[0].Options = []*discordgo.ApplicationCommandInteractionDataOption{
		{Type: discordgo.ApplicationCommandOptionString, Name: "title", Value: "Standup"},
	}

	opts := SubcommandOptions(i)
	if o, ok := opts["title"]; !ok || o.StringValue() != "Standup" {
		t.Errorf("title option = %+v", opts["title"])
	}
	if len(SubcommandOptions(command("record", ""))) != 0 {
		t.Error("expected no options without a subcommand")
	}
}

func TestInteractionUserID(t *testing.T) {
	t.Parallel()

	guild := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "member-1"}}}}
	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "user-1"}}}

	if got := InteractionUserID(guild); got != "member-1" {
		t.Errorf("guild user = %q", got)
	}
	if got := InteractionUserID(dm); got != "user-1" {
		t.Errorf("dm user = %q", got)
	}
	if got := InteractionUserID(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}); got != "" {
		t.Errorf("empty user = %q", got)
	}
}
