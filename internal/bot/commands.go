package bot

import (
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/park285/guessword-bot/internal/tgfast"
)

// ParsedCommand is one bot_command entity found in a message.
type ParsedCommand struct {
	Name   string
	Params []string
	Body   string
}

// ParseCommands extracts every bot_command entity of m in message order.
// Entity offsets count UTF-16 code units, so slicing goes through utf16.
func ParseCommands(m *tgfast.Message) []ParsedCommand {
	if m == nil || m.Text == "" || len(m.Entities) == 0 {
		return nil
	}
	units := utf16.Encode([]rune(m.Text))
	var out []ParsedCommand
	for _, e := range m.Entities {
		if e.Type != "bot_command" || e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		token := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		name := commandName(token)
		if name == "" {
			continue
		}
		rest := string(utf16.Decode(units[e.Offset:]))
		out = append(out, ParsedCommand{
			Name:   name,
			Params: commandParams(rest),
			Body:   strings.TrimSpace(string(utf16.Decode(units[e.Offset+e.Length:]))),
		})
	}
	return out
}

// CallbackCommand reads a button payload of the form /name_param.
func CallbackCommand(data string) (ParsedCommand, bool) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "/") {
		return ParsedCommand{}, false
	}
	name := commandName(data)
	if name == "" {
		return ParsedCommand{}, false
	}
	return ParsedCommand{Name: name, Params: commandParams(data)}, true
}

// commandName trims the slash and cuts at the bot mention or the first parameter.
func commandName(token string) string {
	token = strings.TrimLeft(strings.TrimSpace(token), "/")
	if i := strings.IndexAny(token, "@_ "); i >= 0 {
		token = token[:i]
	}
	return strings.ToLower(token)
}

// commandParams splits s on '_' and whitespace and drops the command itself.
// A bot mention is dropped first so usernames with '_' do not leak into params.
func commandParams(s string) []string {
	s = strings.TrimSpace(s)
	head, tail := s, ""
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		head, tail = s[:i], s[i:]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	s = head + tail
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' || r == '\n' || r == '\t' })
	if len(parts) <= 1 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
