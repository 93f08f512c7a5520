package handlers

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"emote-tracker/backfill"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HandlePing handles the logic for the /ping command.
func (h *Handlers) HandlePing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.respond(s, i, &discordgo.InteractionResponseData{
		Content: fmt.Sprintf("Pong! (%s)", s.HeartbeatLatency().Round(time.Millisecond)),
	})
}

// statusReport is everything /backfill-status shows.
type statusReport struct {
	Stats      backfill.Stats
	Disabled   bool
	Stops      map[string]int
	Usages     int64
	ChannelID  string
	Channel    *models.ChannelStatus
	CPUPercent float64
	MemPercent float64
	MemUsed    uint64
	MemTotal   uint64
	Uptime     time.Duration
	Goroutines int
}

// HandleBackfillStatus handles the /backfill-status command.
func (h *Handlers) HandleBackfillStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	report := statusReport{
		Stats:      h.Backfill.Stats(),
		Disabled:   h.Backfill.Disabled(),
		Stops:      h.Status.Counts(),
		Goroutines: runtime.NumGoroutine(),
	}

	usages, err := h.Usage.CountUsage(h.ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count usages")
	}
	report.Usages = usages

	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "channel" {
			report.ChannelID = opt.ChannelValue(nil).ID
			if st, ok := h.Status.Stop(report.ChannelID); ok {
				report.Channel = &st
			}
		}
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		report.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemPercent = vm.UsedPercent
		report.MemUsed = vm.Used
		report.MemTotal = vm.Total
	}
	if up, err := host.Uptime(); err == nil {
		report.Uptime = time.Duration(up) * time.Second
	}

	h.respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{statusEmbed(report, time.Now())},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
}

func statusEmbed(r statusReport, now time.Time) *discordgo.MessageEmbed {
	state := "🔄 Running"
	color := utils.ColorWarn
	switch {
	case r.Disabled:
		state, color = "⏸️ Disabled", utils.ColorError
	case r.Stats.Active == 0:
		state, color = "✅ Finished", utils.ColorInfo
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "State", Value: state, Inline: true},
		{Name: "Queued", Value: fmt.Sprintf("%d", r.Stats.Pending), Inline: true},
		{Name: "In progress", Value: fmt.Sprintf("%d", r.Stats.Active-r.Stats.Pending), Inline: true},
		{Name: "Bottom phase", Value: fmt.Sprintf("%d", r.Stats.Backfilled), Inline: true},
		{Name: "Stored usages", Value: fmt.Sprintf("%d", r.Usages), Inline: true},
		{Name: "Stopped channels", Value: formatStops(r.Stops), Inline: false},
	}
	if r.ChannelID != "" {
		value := "No stop recorded, the channel is queued or was never seen."
		if r.Channel != nil {
			value = fmt.Sprintf("%s since <t:%d:R>", r.Channel.Reason, r.Channel.StoppedAt.Unix())
			if r.Channel.Detail != "" {
				value += "\n" + r.Channel.Detail
			}
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: fmt.Sprintf("<#%s>", r.ChannelID), Value: value})
	}
	fields = append(fields,
		&discordgo.MessageEmbedField{Name: "🔥 CPU", Value: fmt.Sprintf("%.1f%%", r.CPUPercent), Inline: true},
		&discordgo.MessageEmbedField{Name: "🧠 Memory", Value: fmt.Sprintf("%.1f%% (%d MB / %d MB)", r.MemPercent, r.MemUsed/1024/1024, r.MemTotal/1024/1024), Inline: true},
		&discordgo.MessageEmbedField{Name: "⏱️ Host uptime", Value: r.Uptime.String(), Inline: true},
		&discordgo.MessageEmbedField{Name: "🚀 Goroutines", Value: fmt.Sprintf("%d", r.Goroutines), Inline: true},
	)

	return &discordgo.MessageEmbed{
		Title:     "Backfill status",
		Color:     color,
		Fields:    fields,
		Timestamp: now.Format(time.RFC3339),
	}
}

func formatStops(stops map[string]int) string {
	if len(stops) == 0 {
		return "none"
	}
	reasons := make([]string, 0, len(stops))
	for reason := range stops {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	lines := make([]string, len(reasons))
	for i, reason := range reasons {
		lines[i] = fmt.Sprintf("%s: %d", reason, stops[reason])
	}
	return strings.Join(lines, "\n")
}
