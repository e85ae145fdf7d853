package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"bilisub/pkg/models"

	"github.com/fatih/color"
)

// SchemeConsole prints messages to a terminal
const SchemeConsole = "console"

// Console writes messages to an io.Writer. Useful for local runs and as a
// destination that never fails.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	channel *color.Color
	mention *color.Color
	image   *color.Color
}

// NewConsole creates a console transport; nil means stdout
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:     out,
		channel: color.New(color.FgCyan, color.Bold),
		mention: color.New(color.FgYellow, color.Bold),
		image:   color.New(color.FgHiBlack),
	}
}

func (c *Console) Scheme() string { return SchemeConsole }

// Send writes msg under a header naming target
func (c *Console) Send(ctx context.Context, target string, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(c.channel.Sprintf("[%s]", target))
	if msg.MentionAll {
		b.WriteString(" " + c.mention.Sprint("@all"))
	}
	b.WriteString("\n")
	b.WriteString(msg.Text)
	b.WriteString("\n")
	for _, img := range msg.Images {
		ref := img.Path
		if ref == "" {
			ref = img.URL
		}
		b.WriteString(c.image.Sprintf("  image: %s", ref))
		b.WriteString("\n")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprint(c.out, b.String())
	return err
}
