package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/postalsys/meshcore/internal/dispatch"
	"github.com/postalsys/meshcore/internal/protocol"
)

// printer writes human-readable output, styled when writing to a terminal.
type printer struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time

	titleStyle lipgloss.Style
	labelStyle lipgloss.Style
	noteStyle  lipgloss.Style
	errStyle   lipgloss.Style
	kindStyle  lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	plain := lipgloss.NewStyle()
	p := &printer{
		w:          w,
		now:        time.Now,
		titleStyle: plain,
		labelStyle: plain,
		noteStyle:  plain,
		errStyle:   plain,
		kindStyle:  plain,
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
		p.labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
		p.noteStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888"))
		p.errStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
		p.kindStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	}
	return p
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) title(s string) {
	p.printf("%s\n", p.titleStyle.Render(s))
}

func (p *printer) field(label, value string) {
	p.printf("  %s %s\n", p.labelStyle.Render(fmt.Sprintf("%-13s", label+":")), value)
}

func (p *printer) note(format string, args ...any) {
	p.printf("%s\n", p.noteStyle.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) errorf(format string, args ...any) {
	p.printf("%s %s\n", p.errStyle.Render("error:"), fmt.Sprintf(format, args...))
}

// packet prints the link-level header of a decoded frame.
func (p *printer) packet(pkt *protocol.Packet) {
	p.title("Packet")
	p.field("Type", pkt.PayloadType().String())
	p.field("Route", pkt.RouteType().String())
	p.field("Version", pkt.Header.Flags.Version().String())
	if len(pkt.Path) > 0 {
		p.field("Path", hex.EncodeToString(pkt.Path))
	} else {
		p.field("Path", "(none)")
	}
	p.field("Payload", humanize.Bytes(uint64(len(pkt.Payload))))
}

// event prints one accepted packet as a single line.
func (p *printer) event(ev dispatch.Event) {
	at := ev.ReceivedAt()
	if at.IsZero() {
		at = p.now()
	}
	stamp := at.Format("15:04:05")

	switch e := ev.(type) {
	case *dispatch.AdvertEvent:
		line := fmt.Sprintf("%s %q [%02x] %s", e.NodeType, e.Name, e.Hash(), p.age(e.Timestamp))
		if e.LatLong != nil {
			line += fmt.Sprintf(" at %.6f,%.6f", float64(e.LatLong.Lat)/1e6, float64(e.LatLong.Lon)/1e6)
		}
		if e.Battery != nil {
			line += fmt.Sprintf(" battery %dmV", *e.Battery)
		}
		p.printf("%s %s %s\n", stamp, p.kindStyle.Render("ADVERT"), line)

	case *dispatch.DirectMessageEvent:
		if e.Type == protocol.PayloadTxt {
			p.printf("%s %s <%s> %s\n", stamp, p.kindStyle.Render("DM"), e.Contact.Name, e.Text)
			return
		}
		p.printf("%s %s from %s, %s\n", stamp, p.kindStyle.Render(e.Type.String()), e.Contact.Name,
			humanize.Bytes(uint64(len(e.Data))))

	case *dispatch.GroupMessageEvent:
		if e.Type == protocol.PayloadGrpText {
			p.printf("%s %s %s\n", stamp, p.kindStyle.Render("#"+e.Channel), e.Text)
			return
		}
		p.printf("%s %s data, %s\n", stamp, p.kindStyle.Render("#"+e.Channel),
			humanize.Bytes(uint64(len(e.Data))))

	default:
		p.printf("%s %s\n", stamp, ev.PayloadType())
	}
}

// age describes a sender's clock value relative to ours.
func (p *printer) age(ts uint32) string {
	if ts == 0 {
		return "no clock"
	}
	return "sent " + humanize.RelTime(time.Unix(int64(ts), 0), p.now(), "ago", "ahead")
}
