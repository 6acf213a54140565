package audio

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	_ "embed"
)

// Kind identifies which store namespace a fragment lives in.
type Kind string

const (
	KindSegment    Kind = "segments"
	KindClientName Kind = "names/clients"
	KindAgentName  Kind = "names/agents"
)

// Placeholder tokens usable in template fragment lists.
const (
	placeholderClient = "[CLIENT_NAME]"
	placeholderAgent  = "[AGENT_NAME]"
)

//go:embed templates.json
var defaultCatalogJSON []byte

// Template is a named, ordered recipe of fragments. Fragments is a list of
// literal segment names and/or the CLIENT_NAME / AGENT_NAME placeholder
// tokens. NamePrefix, when set, binds the client-name fragment to a combined
// phrase ("Hello {name}") instead of the bare name; it is a static property
// of the template, never a caller decision. FallbackText is the full phrase
// synthesized in one piece when fragment resolution or concatenation fails,
// with {client} and {agent} substituted.
type Template struct {
	Name         string   `json:"-"`
	Fragments    []string `json:"fragments"`
	NamePrefix   string   `json:"name_prefix,omitempty"`
	FallbackText string   `json:"fallback_text,omitempty"`
}

// NeedsClientName reports whether the template contains a CLIENT_NAME placeholder.
func (t *Template) NeedsClientName() bool { return t.hasPlaceholder(placeholderClient) }

// NeedsAgentName reports whether the template contains an AGENT_NAME placeholder.
func (t *Template) NeedsAgentName() bool { return t.hasPlaceholder(placeholderAgent) }

func (t *Template) hasPlaceholder(token string) bool {
	for _, f := range t.Fragments {
		if f == token {
			return true
		}
	}
	return false
}

// Fragment is one resolved entry of a template expansion. Text is what the
// synthesis tier speaks if the fragment is missing from every store.
type Fragment struct {
	Kind Kind
	Key  string
	Text string
}

// catalogFile is the on-disk / embedded catalog format.
type catalogFile struct {
	Templates map[string]*Template `json:"templates"`
	// Scripts maps segment name to its authored spoken text, used when a
	// static segment has to be synthesized on demand.
	Scripts map[string]string `json:"scripts"`
}

// Catalog holds the static template definitions and segment scripts. It is
// loaded once at startup and read-only thereafter.
type Catalog struct {
	templates map[string]*Template
	scripts   map[string]string
}

// LoadCatalog builds the catalog from the embedded defaults, optionally
// overridden by a JSON file at path (empty path keeps the defaults).
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalogJSON
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading template catalog %s: %w", path, err)
		}
		raw = data
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing template catalog: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("template catalog is empty")
	}

	for name, tpl := range file.Templates {
		tpl.Name = name
		if len(tpl.Fragments) == 0 {
			return nil, fmt.Errorf("template %q has no fragments", name)
		}
		for _, f := range tpl.Fragments {
			if f == "" {
				return nil, fmt.Errorf("template %q has an empty fragment reference", name)
			}
		}
	}

	return &Catalog{templates: file.Templates, scripts: file.Scripts}, nil
}

// Get returns the template by name, or ErrTemplateNotFound.
func (c *Catalog) Get(name string) (*Template, error) {
	tpl, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return tpl, nil
}

// Names returns all template names (unordered).
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	return names
}

// Script returns the authored spoken text for a static segment, or the
// empty string if no script is on file.
func (c *Catalog) Script(segment string) string { return c.scripts[segment] }

// Expand resolves a template into its ordered fragment list. Placeholders
// are bound to the supplied names; a placeholder with no matching name
// fails with ErrMissingPersonName. Keys are normalized so identical names
// address identical audio across tiers.
func (c *Catalog) Expand(name, clientName, agentName string) ([]Fragment, error) {
	tpl, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	if tpl.NeedsClientName() && strings.TrimSpace(clientName) == "" {
		return nil, fmt.Errorf("%w: template %q requires a client name", ErrMissingPersonName, name)
	}
	if tpl.NeedsAgentName() && strings.TrimSpace(agentName) == "" {
		return nil, fmt.Errorf("%w: template %q requires an agent name", ErrMissingPersonName, name)
	}

	frags := make([]Fragment, 0, len(tpl.Fragments))
	for _, ref := range tpl.Fragments {
		switch ref {
		case placeholderClient:
			frags = append(frags, clientFragment(tpl, clientName))
		case placeholderAgent:
			frags = append(frags, Fragment{
				Kind: KindAgentName,
				Key:  NormalizeName(agentName),
				Text: agentName,
			})
		default:
			frags = append(frags, Fragment{
				Kind: KindSegment,
				Key:  ref,
				Text: c.Script(ref),
			})
		}
	}
	return frags, nil
}

// clientFragment binds the client-name placeholder. Templates with a
// NamePrefix speak a combined phrase ("Hello John") stored under its own
// key so it never collides with the bare-name audio.
func clientFragment(tpl *Template, clientName string) Fragment {
	if tpl.NamePrefix != "" {
		phrase := tpl.NamePrefix + " " + clientName
		return Fragment{
			Kind: KindClientName,
			Key:  NormalizeName(phrase),
			Text: phrase,
		}
	}
	return Fragment{
		Kind: KindClientName,
		Key:  NormalizeName(clientName),
		Text: clientName,
	}
}

// FallbackText builds the whole-phrase synthesis text for a template with
// the given names substituted. Returns the empty string when the template
// has no fallback script.
func (c *Catalog) FallbackText(name, clientName, agentName string) string {
	tpl, ok := c.templates[name]
	if !ok || tpl.FallbackText == "" {
		return ""
	}
	r := strings.NewReplacer(
		"{client}", clientName,
		"{agent}", agentName,
	)
	return r.Replace(tpl.FallbackText)
}
