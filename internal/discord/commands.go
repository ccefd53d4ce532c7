package discord

import "github.com/bwmarrin/discordgo"

const (
	commandName        = "ticket"
	openTicketButtonID = "open_ticket_btn"
)

// Subcommands of /ticket.
const (
	subSetup   = "setup"
	subCreate  = "create"
	subClose   = "close"
	subDelete  = "delete"
	subAdd     = "add"
	subRemove  = "remove"
	subClaim   = "claim"
	subUnclaim = "unclaim"
	subInfo    = "info"
)

// staffOnly lists the subcommands gated on the support role.
var staffOnly = map[string]bool{
	subSetup:   true,
	subClose:   true,
	subDelete:  true,
	subAdd:     true,
	subRemove:  true,
	subClaim:   true,
	subUnclaim: true,
	subInfo:    true,
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

// Commands returns the guild slash commands the bot registers.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{{
		Name:        commandName,
		Description: "Ticket management commands",
		Options: []*discordgo.ApplicationCommandOption{
			subcommand(subSetup, "Setup ticket panel embed"),
			subcommand(subCreate, "Create a new ticket"),
			subcommand(subClose, "Close an existing ticket"),
			subcommand(subDelete, "Delete a ticket"),
			subcommand(subAdd, "Add a user to a ticket", userOption("User to add")),
			subcommand(subRemove, "Remove a user from a ticket", userOption("User to remove")),
			subcommand(subClaim, "Claim a ticket"),
			subcommand(subUnclaim, "Unclaim a ticket you have claimed"),
			subcommand(subInfo, "Show information about this ticket"),
		},
	}}
}
