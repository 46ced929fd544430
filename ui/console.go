// Package ui is the terminal front end of the hosted agents.
// It observes coordinators and turns typed lines into sends. It never
// touches the roster or the transport directly.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/observability"
	"peer-chat/repositories"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

const helpText = `Commands:
  @<name> <text>   send text to a peer
  /to <name>       select the recipient of plain lines
  /peers           list peers of the active agent
  /use <agent>     switch the active agent
  /history [more]  show archived messages
  /stats           show counters
  /quit            leave`

// Participant is the part of a coordinator the console drives.
type Participant interface {
	Self() domain.PeerID
	SendTo(ctx context.Context, displayName, content string) error
}

type Console struct {
	mu         sync.Mutex
	log        *slog.Logger
	out        io.Writer
	colours    bool
	views      map[string]*AgentView
	order      []string
	active     string
	history    repositories.ITranscriptRepository
	monitoring *observability.MonitoringManager
	cursor     *string
}

// NewConsole writes to out. history and monitoring are optional.
func NewConsole(
	log *slog.Logger,
	out io.Writer,
	colours bool,
	history repositories.ITranscriptRepository,
	monitoring *observability.MonitoringManager,
) *Console {
	return &Console{
		log:        log,
		out:        out,
		colours:    colours,
		views:      make(map[string]*AgentView),
		history:    history,
		monitoring: monitoring,
	}
}

// View returns the observer of the given agent, creating it on first use.
// The first agent seen becomes the active one.
func (c *Console) View(agent string) *AgentView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view(agent)
}

func (c *Console) view(agent string) *AgentView {
	if v, ok := c.views[agent]; ok {
		return v
	}
	v := &AgentView{console: c, agent: agent}
	c.views[agent] = v
	c.order = append(c.order, agent)
	if c.active == "" {
		c.active = agent
	}
	return v
}

// Attach binds the participant that sends on behalf of its agent view.
func (c *Console) Attach(p Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view(p.Self().DisplayName()).participant = p
}

func (c *Console) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Run reads commands from in until /quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s\n", c.paint(color.FgDarkGray, "type /help for commands"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.Handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// Handle executes one input line and reports whether the user asked to quit.
func (c *Console) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if strings.HasPrefix(line, "@") {
		name, content, _ := strings.Cut(line[1:], " ")
		c.send(ctx, name, content)
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, c.target(), line)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		c.printf("%s\n", helpText)
	case "/use":
		c.use(arg)
	case "/to":
		c.selectTarget(arg)
	case "/peers":
		c.printPeers()
	case "/history":
		c.printHistory(arg == "more")
	case "/stats":
		c.printStats()
	default:
		c.printError(fmt.Sprintf("unknown command %s", command))
	}
	return false
}

func (c *Console) send(ctx context.Context, name, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		c.log.Debug("Ignoring empty message", "to", name)
		return
	}
	if name == "" {
		c.printError("no recipient selected, use /to <name> or @<name>")
		return
	}

	c.mu.Lock()
	view := c.views[c.active]
	c.mu.Unlock()
	if view == nil || view.participant == nil {
		c.printError("no active agent")
		return
	}
	// The coordinator reports failures to the view itself.
	if err := view.participant.SendTo(ctx, name, content); err != nil {
		c.log.Debug("Send rejected", "to", name, "error", err)
	}
}

func (c *Console) target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.views[c.active]; ok {
		return v.target
	}
	return ""
}

func (c *Console) use(agent string) {
	c.mu.Lock()
	_, ok := c.views[agent]
	if ok {
		c.active = agent
	}
	c.mu.Unlock()
	if !ok {
		c.printError(fmt.Sprintf("no local agent %s", agent))
		return
	}
	c.printf("%s\n", c.paint(color.FgDarkGray, "now speaking as "+agent))
}

func (c *Console) selectTarget(name string) {
	c.mu.Lock()
	v := c.views[c.active]
	ok := v != nil && slices.Contains(v.peers, name)
	if ok {
		v.target = name
	}
	c.mu.Unlock()
	if !ok {
		c.printError((&errors.UnknownRecipientError{Name: name}).Error())
		return
	}
	c.printf("%s\n", c.paint(color.FgDarkGray, "sending to "+name))
}

func (c *Console) printPeers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.views[c.active]
	if v == nil {
		return
	}
	table := c.newTable([]string{"Peer", "Service", "Selected"})
	for _, peer := range v.peers {
		table.Append([]string{peer, domain.ServiceName(domain.PeerID(peer)), lo.Ternary(peer == v.target, "*", "")})
	}
	table.Render()
}

func (c *Console) printHistory(more bool) {
	if c.history == nil {
		c.printError("archive disabled, set ARCHIVE_ENABLED=true")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !more {
		c.cursor = nil
	}
	events, next, err := c.history.GetMessages(c.cursor)
	if err != nil {
		c.log.Error("History read failed", "error", err)
		c.writeError(err.Error())
		return
	}
	c.cursor = next
	table := c.newTable([]string{"Time", "From", "To", "Content"})
	for _, evt := range events {
		table.Append([]string{evt.Timestamp, evt.Sender, evt.Receiver, evt.Content})
	}
	table.Render()
}

func (c *Console) printStats() {
	if c.monitoring == nil {
		return
	}
	stats := c.monitoring.GetLatest()
	c.mu.Lock()
	defer c.mu.Unlock()
	table := c.newTable([]string{"Metric", "Value"})
	for _, row := range [][2]string{
		{"refreshes", strconv.FormatUint(stats.Refreshes, 10)},
		{"skipped ticks", strconv.FormatUint(stats.SkippedTicks, 10)},
		{"lookup failures", strconv.FormatUint(stats.LookupFailures, 10)},
		{"received", strconv.FormatUint(stats.Received, 10)},
		{"sent", strconv.FormatUint(stats.Sent, 10)},
		{"dispatch failures", strconv.FormatUint(stats.DispatchFailures, 10)},
		{"transcript failures", strconv.FormatUint(stats.TranscriptFailures, 10)},
		{"rss", fmt.Sprintf("%d MB", stats.RSSBytes/1024/1024)},
		{"cpu", fmt.Sprintf("%.1f%%", stats.CPUPercent)},
	} {
		table.Append(row[:])
	}
	table.Render()
}

func (c *Console) newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func (c *Console) paint(colour color.Color, text string) string {
	if !c.colours {
		return text
	}
	return color.New(colour).Render(text)
}

// prefix tags lines with the agent name once more than one agent is hosted.
func (c *Console) prefix(agent string) string {
	if len(c.order) < 2 {
		return ""
	}
	return c.paint(color.FgMagenta, agent) + " | "
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) printError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeError(message)
}

func (c *Console) writeError(message string) {
	_, _ = fmt.Fprintf(c.out, "%s\n", c.paint(color.FgRed, "[Error]: "+message))
}

var _ contract.Observer = (*AgentView)(nil)

// AgentView is the observer of one coordinator.
type AgentView struct {
	console     *Console
	agent       string
	participant Participant
	peers       []string
	target      string
}

// OnRosterChanged keeps the selected recipient when it is still present,
// otherwise falls back to the first peer.
func (v *AgentView) OnRosterChanged(names []string) {
	c := v.console
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := !slices.Equal(v.peers, names)
	v.peers = append([]string(nil), names...)
	if !slices.Contains(v.peers, v.target) {
		v.target = lo.FirstOr(v.peers, "")
	}
	if !changed {
		return
	}
	list := strings.Join(v.peers, ", ")
	if list == "" {
		list = "nobody"
	}
	_, _ = fmt.Fprintf(c.out, "%s%s\n", c.prefix(v.agent), c.paint(color.FgDarkGray, "online: "+list))
}

func (v *AgentView) OnMessage(sender, content, timestamp string) {
	c := v.console
	c.mu.Lock()
	defer c.mu.Unlock()
	who := c.paint(lo.Ternary(sender == domain.SelfMarker, color.FgGreen, color.FgCyan), sender)
	_, _ = fmt.Fprintf(c.out, "%s%s %s: %s\n", c.prefix(v.agent), c.paint(color.FgDarkGray, "["+timestamp+"]"), who, content)
}

func (v *AgentView) OnError(message string) {
	c := v.console
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "%s", c.prefix(v.agent))
	c.writeError(message)
}

// Target returns the currently selected recipient.
func (v *AgentView) Target() string {
	v.console.mu.Lock()
	defer v.console.mu.Unlock()
	return v.target
}
