package session

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

const (
	DefaultBasePrompt     = "You are a a character and your character is described below."
	DefaultOpeningMessage = " "
)

// PromptData is what a base prompt template can refer to.
type PromptData struct {
	User string
	Vars map[string]string
}

// RenderBasePrompt expands tmpl as a text/template with the sprig function
// map. Plain prompts without actions come back unchanged.
func RenderBasePrompt(tmpl string, data PromptData) (string, error) {
	t, err := template.New("base-prompt").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "could not parse base prompt template")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "could not render base prompt")
	}
	return buf.String(), nil
}

// CharacterSystemPrompt joins the base prompt and a character description.
func CharacterSystemPrompt(basePrompt string, description string) string {
	return basePrompt + "\n" + description
}
