package main

import (
	"io"
	"strings"

	"github.com/dkeye/meetsync/internal/domain"
	"github.com/dkeye/meetsync/internal/media"
	"github.com/dkeye/meetsync/internal/session"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderRoster(w io.Writer, s session.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Room " + string(s.RoomID))
	t.AppendHeader(table.Row{"#", "ID", "Name", "Role", "Media"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})
	for i, p := range s.Participants {
		name := p.Name
		if p.ID == s.LocalPeerID {
			name += " (you)"
		}
		t.AppendRow(table.Row{i + 1, p.ID, name, role(p), mediaState(p.Stream)})
	}
	t.AppendFooter(table.Row{"", "", "", "total", len(s.Participants)})
	t.Render()
}

func role(p domain.Participant) string {
	if p.IsAdmin {
		return "host"
	}
	return "guest"
}

func mediaState(s *media.Stream) string {
	if s == nil {
		return "-"
	}
	var parts []string
	if a := s.AudioTracks(); len(a) > 0 {
		parts = append(parts, "mic "+onOff(anyEnabled(a)))
	}
	if v := s.VideoTracks(); len(v) > 0 {
		parts = append(parts, "cam "+onOff(anyEnabled(v)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func anyEnabled(tracks []*media.Track) bool {
	for _, t := range tracks {
		if t.Enabled() {
			return true
		}
	}
	return false
}
