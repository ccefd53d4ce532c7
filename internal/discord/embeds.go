package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"

	"github.com/spec-kit/ticketbot/internal/domain"
)

const (
	colorGreen   = 0x2ECC71
	colorRed     = 0xE74C3C
	colorBlurple = 0x5865F2
	colorBlue    = 0x3498DB
	colorGrey    = 0x95A5A6
)

func mention(id snowflake.ID) string {
	return "<@" + id.String() + ">"
}

func channelMention(id snowflake.ID) string {
	return "<#" + id.String() + ">"
}

func noticeEmbed(n domain.Notice) *discordgo.MessageEmbed {
	switch n.Kind {
	case domain.NoticeWelcome:
		return &discordgo.MessageEmbed{
			Title: "Welcome to your Ticket",
			Description: fmt.Sprintf("Ticket ID: %s\nCreator: %s\n**A support staff will reach you at any moment.**",
				n.TicketID, mention(n.SubjectID)),
			Color:  colorGreen,
			Footer: &discordgo.MessageEmbedFooter{Text: "Use /ticket close to close this ticket."},
		}
	case domain.NoticeClosed:
		return &discordgo.MessageEmbed{
			Title: "Ticket Closed",
			Description: fmt.Sprintf("Ticket ID: %s\nCreator: %s\n**Thank you for using our support system!**",
				n.TicketID, mention(n.SubjectID)),
			Color:  colorRed,
			Footer: &discordgo.MessageEmbedFooter{Text: "If you need further assistance, feel free to open a new ticket."},
		}
	case domain.NoticeClaimed:
		return &discordgo.MessageEmbed{
			Title:       "Ticket Claimed",
			Description: "This ticket has been claimed by: " + mention(n.SubjectID),
			Color:       colorBlurple,
			Footer:      &discordgo.MessageEmbedFooter{Text: "Support staff is now handling this ticket."},
		}
	case domain.NoticeUnclaimed:
		return &discordgo.MessageEmbed{
			Title:       "Ticket Unclaimed",
			Description: "Ticket unclaimed by " + mention(n.SubjectID),
			Color:       colorGrey,
		}
	}
	return &discordgo.MessageEmbed{Description: fmt.Sprintf("Ticket %s updated.", n.TicketID)}
}

func setupPanel() *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "🎫 Support Tickets",
			Description: "Need help? Click the button below to open a ticket.\n\n**Our team will assist you as soon as possible.**",
			Color:       colorBlue,
			Footer:      &discordgo.MessageEmbedFooter{Text: "Support System"},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "🎫 Open Ticket",
					Style:    discordgo.PrimaryButton,
					CustomID: openTicketButtonID,
				},
			}},
		},
	}
}

func infoText(t *domain.Ticket) string {
	claimed := "(unclaimed)"
	if t.IsClaimed() {
		claimed = mention(*t.ClaimedBy)
	}
	return fmt.Sprintf("ID: %s\nStatus: %s\nCreator: %s\nClaimed By: %s",
		t.ID, t.Status, mention(t.CreatorID), claimed)
}
