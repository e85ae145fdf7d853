package models

import "strings"

// Message is a rendered, destination-agnostic notification
type Message struct {
	Text       string
	Images     []Image
	MentionAll bool
}

// Image is an attachment. URL is the remote source; Path is set once the
// image is available in the local cache.
type Image struct {
	URL  string
	Path string
}

// AppendLine adds a line of text below the existing body
func (m *Message) AppendLine(line string) {
	if m.Text == "" {
		m.Text = line
		return
	}
	m.Text = strings.TrimRight(m.Text, "\n") + "\n" + line
}
