package tools

import (
	"encoding/json"
	"os"
	"strings"
)

// Display is the formatted line a frontend renders for one tool call:
// a glyph, a human title, and the most relevant argument as detail.
type Display struct {
	Name   string
	Emoji  string
	Title  string
	Detail string
}

// displaySpec drives per-tool rendering: which glyph, which title, and
// which argument fields (in priority order) supply the detail.
type displaySpec struct {
	emoji      string
	title      string
	detailKeys []string
}

var displaySpecs = map[string]displaySpec{
	ReadFile:   {emoji: "📖", title: "Read file", detailKeys: []string{"path", "file_path"}},
	WriteFile:  {emoji: "✏️", title: "Write file", detailKeys: []string{"path", "file_path"}},
	DeleteFile: {emoji: "🗑️", title: "Delete file", detailKeys: []string{"path"}},
	ListFiles:  {emoji: "📂", title: "List files", detailKeys: []string{"path"}},
	Grep:       {emoji: "🔍", title: "Grep", detailKeys: []string{"pattern"}},
	Search:     {emoji: "🔎", title: "Search", detailKeys: []string{"query", "pattern"}},
	WebFetch:   {emoji: "🌐", title: "Fetch URL", detailKeys: []string{"url"}},
	RunPtyCmd:  {emoji: "💻", title: "Run command", detailKeys: []string{"command"}},
	UpdatePlan: {emoji: "📋", title: "Update plan", detailKeys: []string{"explanation"}},
}

// ResolveDisplay builds the Display for a tool call. Unknown names get a
// generic gear glyph and a title derived from the name; sub_agent_*
// names render as a delegation to the agent id.
func ResolveDisplay(name string, args json.RawMessage) Display {
	canonical := RewriteAlias(NormalizeName(name))

	if IsSubAgentTool(canonical) {
		return Display{
			Name:   canonical,
			Emoji:  "🤖",
			Title:  "Delegate to " + SubAgentID(canonical),
			Detail: detailFromArgs(args, []string{"task"}),
		}
	}

	spec, ok := displaySpecs[canonical]
	if !ok {
		return Display{
			Name:   canonical,
			Emoji:  "⚙️",
			Title:  titleFromName(canonical),
			Detail: detailFromArgs(args, []string{"path", "command", "query", "url"}),
		}
	}

	return Display{
		Name:   canonical,
		Emoji:  spec.emoji,
		Title:  spec.title,
		Detail: detailFromArgs(args, spec.detailKeys),
	}
}

// Summary renders "title: detail" (or just the title) for one-line UI
// surfaces like the CLI's tool-approval prompt.
func (d Display) Summary() string {
	if d.Detail == "" {
		return d.Title
	}
	return d.Title + ": " + d.Detail
}

// detailFromArgs returns the first non-empty key's value rendered as a
// short string. Array values (e.g. an argv-form command) join with
// spaces; everything else uses its JSON text.
func detailFromArgs(args json.RawMessage, keys []string) string {
	if len(args) == 0 {
		return ""
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ""
	}
	for _, key := range keys {
		raw, ok := decoded[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return shortenHomePath(s)
		}
		var parts []string
		if err := json.Unmarshal(raw, &parts); err == nil {
			return strings.Join(parts, " ")
		}
		return string(raw)
	}
	return ""
}

// titleFromName turns snake_case into a space-separated title with the
// first word capitalized.
func titleFromName(name string) string {
	words := strings.Split(name, "_")
	if len(words) == 0 {
		return name
	}
	first := words[0]
	if first != "" {
		first = strings.ToUpper(first[:1]) + first[1:]
	}
	return strings.Join(append([]string{first}, words[1:]...), " ")
}

// shortenHomePath abbreviates the user's home directory prefix to ~.
func shortenHomePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}
