package providers

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// defaultMaxItems caps list lengths requested from providers.
const defaultMaxItems = 8

// PromptRenderer renders provider prompts from embedded templates.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer creates a new prompt renderer.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}
	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"indent":    indent,
		"trimSpace": strings.TrimSpace,
		"lower":     strings.ToLower,
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

// ResearchParams contains parameters for the research prompt.
type ResearchParams struct {
	Target   string
	Focus    []core.Field
	Notes    string
	MaxItems int
}

type promptField struct {
	Name  core.Field
	List  bool
	Focus bool
}

type researchData struct {
	Target   string
	Notes    string
	Fields   []promptField
	HasFocus bool
	MaxItems int
}

// RenderResearch renders the system and user prompts for one target.
func (r *PromptRenderer) RenderResearch(params ResearchParams) (system, user string, err error) {
	focus := make(map[core.Field]bool, len(params.Focus))
	for _, f := range params.Focus {
		focus[f] = true
	}

	data := researchData{
		Target:   params.Target,
		Notes:    params.Notes,
		HasFocus: len(focus) > 0,
		MaxItems: params.MaxItems,
	}
	if data.MaxItems == 0 {
		data.MaxItems = defaultMaxItems
	}
	for _, spec := range core.CanonicalFields() {
		data.Fields = append(data.Fields, promptField{
			Name:  spec.Name,
			List:  spec.Kind == core.KindList,
			Focus: focus[spec.Name],
		})
	}

	system, err = r.render("system", nil)
	if err != nil {
		return "", "", err
	}
	user, err = r.render("research", data)
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
